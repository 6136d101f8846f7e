package migration

import (
	"fmt"
	"strings"

	"github.com/continuumhq/continuum/internal/database"
)

// NewMigratorFromDatabaseConfig builds a migrator from the application
// database settings.
func NewMigratorFromDatabaseConfig(cfg database.Config) (*Migrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	url := cfg.DSN
	if dialect == DialectSQLite && !strings.HasPrefix(url, "file:") && url != ":memory:" {
		// The sqlite3 driver takes a plain path, but a file: URL lets us
		// force read-write-create mode.
		url = fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", url)
	}

	return NewMigrator(&Config{
		Dialect:     dialect,
		DatabaseURL: url,
	})
}

// NewMigratorFromURL builds a migrator from an explicit dialect name
// and connection URL.
func NewMigratorFromURL(dialect, url string) (*Migrator, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{Dialect: d, DatabaseURL: url})
}
