package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies versioned SQL files and records them in
// schema_migrations.
// FUNCTIONAL DISCOVERY: the same manager drives SQLite and Postgres; only
// the placeholder style and the catalog queries differ per dialect.
type MigrationManager struct {
	db      *sql.DB
	dialect Dialect
	source  fs.FS
}

// NewMigrationManager creates a manager reading migrations from source.
// A nil source selects the migrations embedded for the dialect.
func NewMigrationManager(db *sql.DB, dialect Dialect, source fs.FS) *MigrationManager {
	if source == nil {
		source = EmbeddedMigrations(dialect)
	}
	return &MigrationManager{db: db, dialect: dialect, source: source}
}

// EmbeddedMigrations returns the migration files bundled for a dialect.
func EmbeddedMigrations(dialect Dialect) fs.FS {
	sub, err := fs.Sub(embeddedMigrations, path.Join("migrations", string(dialect)))
	if err != nil {
		// fs.Sub only fails on an invalid path, which a Dialect constant never is.
		panic(err)
	}
	return sub
}

// MigrationSource resolves the migration source for a config: the
// directory override when set, otherwise the embedded files.
func MigrationSource(cfg *Config) fs.FS {
	if cfg.MigrationsPath != "" {
		return os.DirFS(cfg.MigrationsPath)
	}
	return EmbeddedMigrations(cfg.Dialect)
}

// ApplyMigrations applies all pending migrations in version order, each
// in its own transaction.
func (m *MigrationManager) ApplyMigrations(ctx context.Context) error {
	if err := m.createMigrationTable(ctx); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if _, done := applied[migration.Version]; done {
			continue
		}
		if err := m.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// AppliedVersions lists the versions recorded in schema_migrations.
func (m *MigrationManager) AppliedVersions(ctx context.Context) ([]string, error) {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

// loadMigrations reads NNN_description.sql files from the source root.
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		version, rest, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: expected NNN_description.sql", name)
		}
		if _, err := strconv.Atoi(version); err != nil {
			return nil, fmt.Errorf("migration %s: version %q is not numeric", name, version)
		}
		content, err := fs.ReadFile(m.source, name)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{
			Version:     version,
			Description: rest,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (m *MigrationManager) appliedVersions(ctx context.Context) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	versions := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = struct{}{}
	}
	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, Rebind(m.dialect, "INSERT INTO schema_migrations (version) VALUES (?)"), migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebind rewrites ? placeholders into the dialect's positional form.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
