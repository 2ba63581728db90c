package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	dbconfig "promanchat/pkg/database"
	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// PostgresStore is the pgx-backed ChatStore.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	config *dbconfig.Config
	media  MediaURLs
	logger zerolog.Logger
}

var _ interfaces.ChatStore = (*PostgresStore)(nil)

// NewPostgresStore connects the pool, verifies it with a ping and applies
// pending migrations.
func NewPostgresStore(ctx context.Context, config *dbconfig.Config, media MediaURLs, logger zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	migrations := dbconfig.NewMigrationManager(sqlDB, dbconfig.DialectPostgres, dbconfig.MigrationSource(config))
	if err := migrations.ApplyMigrations(ctx); err != nil {
		_ = sqlDB.Close()
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		sqlDB:  sqlDB,
		config: config,
		media:  media,
		logger: logger.With().Str("component", "postgres").Logger(),
	}, nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.QueryTimeout)
}

func (s *PostgresStore) IsAuthorized(ctx context.Context, userID, chatID string) (bool, error) {
	if !types.IsValidID(userID) || !types.IsValidID(chatID) {
		return false, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var authorized bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM projects p
			WHERE p.chat_id = $1
			  AND (
				p.owner_id = $2
				OR EXISTS (SELECT 1 FROM project_supervisors s WHERE s.project_id = p.id AND s.user_id = $2)
				OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $2)
			  )
		)
	`, chatID, userID).Scan(&authorized)
	if err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}
	return authorized, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, chatID, senderID, content string, attachmentIDs []string) (*types.ChatMessage, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	messageID := uuid.NewString()
	sendDate := time.Now().UTC().Truncate(time.Microsecond)
	attachments := types.NormalizeAttachmentIDs(attachmentIDs)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, send_date, content)
		VALUES ($1, $2, $3, $4, $5)
	`, messageID, chatID, senderID, sendDate, content)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if len(attachments) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO message_attachments (message_id, file_id)
			SELECT $1, f.id FROM files f WHERE f.id = ANY($2::text[]::uuid[])
			ON CONFLICT DO NOTHING
		`, messageID, attachments)
		if err != nil {
			return nil, fmt.Errorf("failed to link attachments: %w", err)
		}
	}

	msg, err := s.fetchMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	if !types.IsValidID(messageID) {
		return nil, interfaces.ErrMessageNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.fetchMessage(ctx, s.pool, messageID)
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, before types.HistoryCursor, limit int) ([]*types.ChatMessage, error) {
	if !types.IsValidID(chatID) {
		return []*types.ChatMessage{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sendDate, id := pageBound(before)
	rows, err := s.pool.Query(ctx, pgMessageSelect+`
		WHERE m.chat_id = $1 AND (m.send_date, m.id) < ($2, $3::uuid)
		ORDER BY m.send_date DESC, m.id DESC
		LIMIT $4
	`, chatID, sendDate.UTC(), id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*types.ChatMessage, 0, limit)
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	if err := s.attachFiles(ctx, s.pool, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *PostgresStore) ResolveFiles(ctx context.Context, ids []string) ([]types.FileSummary, error) {
	ids = types.NormalizeAttachmentIDs(ids)
	if len(ids) == 0 {
		return []types.FileSummary{}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, name, path FROM files
		WHERE id = ANY($1::text[]::uuid[])
		ORDER BY name, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []types.FileSummary{}
	for rows.Next() {
		var f types.FileSummary
		var path *string
		if err := rows.Scan(&f.ID, &f.Name, &path); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		f.FileURL = s.media.URL(path)
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) ResolveUser(ctx context.Context, userID string) (*types.UserSummary, error) {
	if !types.IsValidID(userID) {
		return nil, interfaces.ErrUserNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var u types.UserSummary
	var imagePath *string
	err := s.pool.QueryRow(ctx, `
		SELECT u.id::text, u.username, f.path
		FROM users u
		LEFT JOIN files f ON f.id = u.profile_image_id
		WHERE u.id = $1
	`, userID).Scan(&u.ID, &u.Username, &imagePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.ProfileImageURL = s.media.URL(imagePath)
	return &u, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Seeder returns a seeder executing directly on the pool.
func (s *PostgresStore) Seeder() *Seeder {
	return &Seeder{exec: func(ctx context.Context, query string, args ...any) error {
		_, err := s.pool.Exec(ctx, dbconfig.Rebind(dbconfig.DialectPostgres, query), args...)
		return err
	}, stamp: func(t time.Time) any { return t.UTC() }}
}

func (s *PostgresStore) Close() error {
	err := s.sqlDB.Close()
	s.pool.Close()
	return err
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgMessageSelect = `
	SELECT m.id::text, m.chat_id::text, m.send_date, m.content, u.id::text, u.username, pf.path
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN files pf ON pf.id = u.profile_image_id
`

func (s *PostgresStore) fetchMessage(ctx context.Context, q pgQuerier, messageID string) (*types.ChatMessage, error) {
	msg, err := s.scanMessage(q.QueryRow(ctx, pgMessageSelect+" WHERE m.id = $1", messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, q, []*types.ChatMessage{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) scanMessage(row pgx.Row) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	var imagePath *string
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.SendDate, &msg.Content, &msg.Sender.ID, &msg.Sender.Username, &imagePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message row: %w", err)
	}
	msg.SendDate = msg.SendDate.UTC()
	msg.Sender.ProfileImageURL = s.media.URL(imagePath)
	msg.Attached = []types.FileSummary{}
	return &msg, nil
}

func (s *PostgresStore) attachFiles(ctx context.Context, q pgQuerier, messages []*types.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	byID := make(map[string]*types.ChatMessage, len(messages))
	ids := make([]string, len(messages))
	for i, msg := range messages {
		byID[msg.ID] = msg
		ids[i] = msg.ID
	}

	rows, err := q.Query(ctx, `
		SELECT ma.message_id::text, f.id::text, f.name, f.path
		FROM message_attachments ma
		JOIN files f ON f.id = ma.file_id
		WHERE ma.message_id = ANY($1::text[]::uuid[])
		ORDER BY f.name, f.id
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID string
		var f types.FileSummary
		var path *string
		if err := rows.Scan(&messageID, &f.ID, &f.Name, &path); err != nil {
			return fmt.Errorf("failed to scan attachment row: %w", err)
		}
		f.FileURL = s.media.URL(path)
		if msg, ok := byID[messageID]; ok {
			msg.Attached = append(msg.Attached, f)
		}
	}
	return rows.Err()
}
