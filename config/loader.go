// Package config loads the engine configuration from defaults, an
// optional YAML file, and environment-variable overrides, in that
// order of precedence.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CONTINUUM").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/continuumhq/continuum/capacity"
	"github.com/continuumhq/continuum/extract"
	"github.com/continuumhq/continuum/internal/database"
	"github.com/continuumhq/continuum/internal/server"
	"github.com/continuumhq/continuum/snapshot"
)

// Config is the full engine configuration.
type Config struct {
	Server    server.Config           `yaml:"server" env:"SERVER"`
	Database  database.Config         `yaml:"database" env:"DATABASE"`
	Snapshots SnapshotsConfig         `yaml:"snapshots" env:"SNAPSHOTS"`
	Redis     RedisConfig             `yaml:"redis" env:"REDIS"`
	Events    EventsConfig            `yaml:"events" env:"EVENTS"`
	LLM       LLMConfig               `yaml:"llm" env:"LLM"`
	Pause     PauseConfig             `yaml:"pause" env:"PAUSE"`
	Git       GitConfig               `yaml:"git" env:"GIT"`
	Capacity  capacity.Config         `yaml:"capacity" env:"CAPACITY"`
	Extractor extract.Config          `yaml:"extractor" env:"EXTRACTOR"`
	Compiler  snapshot.CompilerConfig `yaml:"compiler" env:"COMPILER"`
	Auth      AuthConfig              `yaml:"auth" env:"AUTH"`
	RateLimit RateLimitConfig         `yaml:"rate_limit" env:"RATE_LIMIT"`
	Log       LogConfig               `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig         `yaml:"telemetry" env:"TELEMETRY"`
}

// SnapshotsConfig selects the snapshot store backend.
type SnapshotsConfig struct {
	// Backend is sql (the main database) or mongo.
	Backend string `yaml:"backend" env:"BACKEND"`
	// MongoURI and MongoDatabase apply when Backend is mongo.
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	// CacheEnabled serves snapshot reads from Redis. Snapshots are
	// immutable, so cached entries never go stale.
	CacheEnabled bool          `yaml:"cache_enabled" env:"CACHE_ENABLED"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// RedisConfig configures the optional Redis connection used for event
// publication.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// EventsConfig configures lifecycle event publication.
type EventsConfig struct {
	// RedisEnabled additionally publishes events to Redis pub/sub.
	RedisEnabled bool   `yaml:"redis_enabled" env:"REDIS_ENABLED"`
	Channel      string `yaml:"channel" env:"CHANNEL"`
}

// LLMConfig configures the external structured-output capability used
// by the decision extractor.
type LLMConfig struct {
	Provider          string        `yaml:"provider" env:"PROVIDER"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	Model             string        `yaml:"model" env:"MODEL"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// PauseConfig tunes the pause contract.
type PauseConfig struct {
	// BoundaryTimeout bounds the wait for a task boundary before the
	// pause is forced.
	BoundaryTimeout time.Duration `yaml:"boundary_timeout" env:"BOUNDARY_TIMEOUT"`
}

// GitConfig configures working-tree state capture.
type GitConfig struct {
	// RepoPath is the repository root to inspect. Empty disables
	// git state capture entirely.
	RepoPath string `yaml:"repo_path" env:"REPO_PATH"`
	// CommandTimeout bounds each git invocation.
	CommandTimeout time.Duration `yaml:"command_timeout" env:"COMMAND_TIMEOUT"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// Enabled requires a bearer JWT on mutating endpoints.
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" env:"ENABLED"`
	RPS     float64 `yaml:"rps" env:"RPS"`
	Burst   int     `yaml:"burst" env:"BURST"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the CONTINUUM env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CONTINUUM",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error; defaults and env apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation step run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the config struct, deriving each field's env
// key from its env tag or, for embedded component configs that carry
// only yaml tags, from the yaml tag uppercased.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "-" {
			continue
		}
		if envTag == "" {
			yamlTag := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
			if yamlTag == "" || yamlTag == "-" {
				continue
			}
			envTag = strings.ToUpper(yamlTag)
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads the configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server addr must not be empty")
	}
	if c.Pause.BoundaryTimeout < 0 {
		errs = append(errs, "pause boundary_timeout must not be negative")
	}
	if c.Capacity.Threshold < 0 || c.Capacity.Threshold > 1 {
		errs = append(errs, "capacity threshold must be in [0, 1]")
	}
	if backend := strings.ToLower(c.Snapshots.Backend); backend != "" && backend != "sql" && backend != "mongo" {
		errs = append(errs, fmt.Sprintf("unknown snapshot backend: %s", c.Snapshots.Backend))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth enabled but jwt_secret is empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
