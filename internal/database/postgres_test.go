package database

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	dbconfig "promanchat/pkg/database"
)

// Runs only against a disposable database named by
// PROMANCHAT_TEST_POSTGRES_DSN.
func TestPostgresStore_StoreContract(t *testing.T) {
	dsn := os.Getenv("PROMANCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PROMANCHAT_TEST_POSTGRES_DSN not set")
	}

	cfg := dbconfig.DefaultConfig()
	cfg.Dialect = dbconfig.DialectPostgres
	cfg.DSN = dsn

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, cfg, MediaURLs{BaseURL: testMediaBase}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	_, err = store.pool.Exec(ctx, "TRUNCATE users, files, chats, projects, project_supervisors, project_members, messages, message_attachments CASCADE")
	require.NoError(t, err)

	require.NoError(t, dbconfig.NewSchemaValidator(store.sqlDB, dbconfig.DialectPostgres).Validate(ctx))
	runStoreContract(t, store, store.Seeder())
}
