package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// RequiredTables lists every table the chat core reads or writes.
var RequiredTables = []string{
	"users",
	"files",
	"chats",
	"projects",
	"project_supervisors",
	"project_members",
	"messages",
	"message_attachments",
	"schema_migrations",
}

// RequiredIndexes lists the indexes the membership and history queries
// rely on.
var RequiredIndexes = []string{
	"idx_messages_chat_send_date",
	"idx_project_supervisors_user",
	"idx_project_members_user",
	"idx_message_attachments_file",
}

// SchemaValidator checks a migrated database against what the stores expect.
type SchemaValidator struct {
	db      *sql.DB
	dialect Dialect
}

func NewSchemaValidator(db *sql.DB, dialect Dialect) *SchemaValidator {
	return &SchemaValidator{db: db, dialect: dialect}
}

// Validate runs every check in order and stops at the first failure.
func (v *SchemaValidator) Validate(ctx context.Context) error {
	if err := v.ValidateTablesExist(ctx); err != nil {
		return err
	}
	if err := v.ValidateIndexes(ctx); err != nil {
		return err
	}
	return v.ValidateConstraints(ctx)
}

func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range RequiredTables {
		exists, err := v.tableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range RequiredIndexes {
		exists, err := v.indexExists(ctx, index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints probes the foreign key and content checks inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	probe := func(name, query string, args ...any) error {
		sp := "probe_" + name
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return err
		}
		_, execErr := tx.ExecContext(ctx, Rebind(v.dialect, query), args...)
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); err != nil {
			return err
		}
		if execErr == nil {
			return fmt.Errorf("constraint not enforced: %s", name)
		}
		return nil
	}

	if err := probe("messages_chat_fk",
		"INSERT INTO messages (id, chat_id, sender_id, send_date, content) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), uuid.NewString(), uuid.NewString(), "2000-01-01T00:00:00.000000000Z", "probe",
	); err != nil {
		return err
	}

	userID, chatID := uuid.NewString(), uuid.NewString()
	if _, err := tx.ExecContext(ctx, Rebind(v.dialect, "INSERT INTO users (id, username) VALUES (?, ?)"), userID, "probe-"+userID); err != nil {
		return fmt.Errorf("failed to create probe user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, Rebind(v.dialect, "INSERT INTO chats (id) VALUES (?)"), chatID); err != nil {
		return fmt.Errorf("failed to create probe chat: %w", err)
	}
	if err := probe("messages_content_not_empty",
		"INSERT INTO messages (id, chat_id, sender_id, send_date, content) VALUES (?, ?, ?, ?, ?)",
		uuid.NewString(), chatID, userID, "2000-01-01T00:00:00.000000000Z", "",
	); err != nil {
		return err
	}

	return nil
}

func (v *SchemaValidator) tableExists(ctx context.Context, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	}
	return v.exists(ctx, query, table)
}

func (v *SchemaValidator) indexExists(ctx context.Context, index string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.dialect == DialectPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = $1"
	}
	return v.exists(ctx, query, index)
}

func (v *SchemaValidator) exists(ctx context.Context, query, name string) (bool, error) {
	var count int
	if err := v.db.QueryRowContext(ctx, query, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
