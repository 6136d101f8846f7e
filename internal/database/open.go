// Package database opens the engine's database handle and manages its
// connection pool: lifetime limits, background health checks, and
// transaction retry for transient failures.
package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config selects the database driver and target.
type Config struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string. For sqlite it is a
	// file path or :memory:.
	DSN  string     `yaml:"dsn" json:"dsn"`
	Pool PoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig returns a local sqlite database.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		DSN:    "continuum.db",
		Pool:   DefaultPoolConfig(),
	}
}

// Open connects to the configured database.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.Driver) {
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", config.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", config.Driver, err)
	}
	return db, nil
}
