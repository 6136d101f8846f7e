package config

import (
	"time"

	"github.com/continuumhq/continuum/capacity"
	"github.com/continuumhq/continuum/extract"
	"github.com/continuumhq/continuum/internal/database"
	"github.com/continuumhq/continuum/internal/server"
	"github.com/continuumhq/continuum/snapshot"
)

// DefaultConfig returns the full default configuration. Every section
// delegates to its component default so tuning lives next to the code
// it tunes.
func DefaultConfig() *Config {
	return &Config{
		Server:    server.DefaultConfig(),
		Database:  database.DefaultConfig(),
		Snapshots: DefaultSnapshotsConfig(),
		Redis:     DefaultRedisConfig(),
		Events:    DefaultEventsConfig(),
		LLM:       DefaultLLMConfig(),
		Pause:     DefaultPauseConfig(),
		Git:       DefaultGitConfig(),
		Capacity:  capacity.DefaultConfig(),
		Extractor: extract.DefaultConfig(),
		Compiler:  snapshot.DefaultCompilerConfig(),
		Auth:      DefaultAuthConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultSnapshotsConfig stores snapshots in the main SQL database.
func DefaultSnapshotsConfig() SnapshotsConfig {
	return SnapshotsConfig{
		Backend:       "sql",
		MongoURI:      "mongodb://localhost:27017",
		MongoDatabase: "continuum",
		CacheTTL:      10 * time.Minute,
	}
}

// DefaultRedisConfig returns a local Redis connection.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultEventsConfig publishes events in process only.
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		RedisEnabled: false,
		Channel:      "continuum:events",
	}
}

// DefaultLLMConfig returns a conservative OpenAI-compatible setup.
// The API key intentionally has no default.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:          "openai",
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4o-mini",
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		RequestsPerSecond: 5,
	}
}

// DefaultGitConfig leaves git state capture disabled until a repository
// path is configured.
func DefaultGitConfig() GitConfig {
	return GitConfig{
		CommandTimeout: 10 * time.Second,
	}
}

// DefaultPauseConfig returns the default pause tuning.
func DefaultPauseConfig() PauseConfig {
	return PauseConfig{
		BoundaryTimeout: 5 * time.Minute,
	}
}

// DefaultAuthConfig leaves authentication off.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled: false,
	}
}

// DefaultRateLimitConfig leaves request limiting off.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: false,
		RPS:     50,
		Burst:   100,
	}
}

// DefaultLogConfig returns JSON logging at info level.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig leaves the OpenTelemetry SDK disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "continuum",
		SampleRate:   1.0,
	}
}
