package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config holds database configuration
// ARCHITECTURAL DISCOVERY: one struct covers both backends; only the fields
// of the selected dialect are validated.
type Config struct {
	Dialect         Dialect       `json:"dialect"`
	DatabasePath    string        `json:"database_path"`
	DSN             string        `json:"dsn"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	// MigrationsPath overrides the embedded migrations when set.
	MigrationsPath string `json:"migrations_path"`
	// QueryTimeout bounds every store call that carries no deadline.
	QueryTimeout time.Duration `json:"query_timeout"`
}

// DefaultConfig returns the SQLite configuration used in development.
func DefaultConfig() *Config {
	return &Config{
		Dialect:         DialectSQLite,
		DatabasePath:    "./data/promanchat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		QueryTimeout:    5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	switch c.Dialect {
	case DialectSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
	case DialectPostgres:
		if c.DSN == "" {
			return errors.New("postgres DSN cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported database dialect %q", c.Dialect)
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("query timeout must be greater than 0")
	}
	return nil
}

// SQLiteDSN builds the go-sqlite3 connection string for a database file.
// TECHNICAL DISCOVERY: foreign_keys must be set per connection; the DSN
// parameter applies it to every pooled connection, the pragma only to one.
func SQLiteDSN(path string) string {
	return path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations applies the performance pragmas to db.
func ApplySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(sqliteOptimizations); err != nil {
		return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	return nil
}
