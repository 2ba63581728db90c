package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "promanchat/pkg/database"
	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// sqliteTimeLayout is fixed width so lexical order on send_date equals
// chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Manager is the SQLite ChatStore.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	media        MediaURLs
	logger       zerolog.Logger
	writeChannel chan writeOperation // single-writer for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.ChatStore = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the SQLite database, applies pending migrations and
// starts the writer goroutine.
func NewManager(ctx context.Context, config *dbconfig.Config, media MediaURLs, logger zerolog.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbconfig.SQLiteDSN(config.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.DialectSQLite, dbconfig.MigrationSource(config))
	if err := migrations.ApplyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		media:        media,
		logger:       logger.With().Str("component", "sqlite").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				// TECHNICAL DISCOVERY: a reader holding the WAL checkpoint can
				// still surface SQLITE_BUSY after busy_timeout; one retry clears it.
				m.logger.Warn().Err(err).Msg("sqlite busy, retrying write once")
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return fmt.Errorf("write not started: %w", ctx.Err())
	case <-m.shutdown:
		return ErrStoreClosed
	}
}

// withTimeout bounds ctx by the configured query timeout unless it already
// carries a deadline.
func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.config.QueryTimeout)
}

// IsAuthorized reports whether the user owns, supervises or belongs to the
// project that owns the chat.
func (m *Manager) IsAuthorized(ctx context.Context, userID, chatID string) (bool, error) {
	if !types.IsValidID(userID) || !types.IsValidID(chatID) {
		return false, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var authorized bool
	err := m.db.QueryRowContext(ctx, membershipQuery, chatID, userID, userID, userID).Scan(&authorized)
	if err != nil {
		return false, fmt.Errorf("failed to check chat membership: %w", err)
	}
	return authorized, nil
}

const membershipQuery = `
	SELECT EXISTS (
		SELECT 1 FROM projects p
		WHERE p.chat_id = ?
		  AND (
			p.owner_id = ?
			OR EXISTS (SELECT 1 FROM project_supervisors s WHERE s.project_id = p.id AND s.user_id = ?)
			OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = ?)
		  )
	)
`

// CreateMessage inserts the message and its resolvable attachments and
// reads the full message back, all inside one transaction.
func (m *Manager) CreateMessage(ctx context.Context, chatID, senderID, content string, attachmentIDs []string) (*types.ChatMessage, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	messageID := uuid.NewString()
	sendDate := time.Now().UTC()
	attachments := types.NormalizeAttachmentIDs(attachmentIDs)

	var created *types.ChatMessage
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, send_date, content)
			VALUES (?, ?, ?, ?, ?)
		`, messageID, chatID, senderID, sendDate.Format(sqliteTimeLayout), content)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		// FUNCTIONAL DISCOVERY: INSERT ... SELECT links only ids present in
		// files; unknown ids insert nothing instead of failing the message.
		for _, fileID := range attachments {
			_, err = tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO message_attachments (message_id, file_id)
				SELECT ?, id FROM files WHERE id = ?
			`, messageID, fileID)
			if err != nil {
				return fmt.Errorf("failed to link attachment: %w", err)
			}
		}

		msg, err := m.fetchMessage(ctx, tx, messageID)
		if err != nil {
			return err
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		created = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetMessage returns a stored message with relations resolved.
func (m *Manager) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.fetchMessage(ctx, m.db, messageID)
}

// ListMessages pages a chat's history newest first.
func (m *Manager) ListMessages(ctx context.Context, chatID string, before types.HistoryCursor, limit int) ([]*types.ChatMessage, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	sendDate, id := pageBound(before)
	stamp := sendDate.UTC().Format(sqliteTimeLayout)
	rows, err := m.db.QueryContext(ctx, messageSelect+`
		WHERE m.chat_id = ?
		  AND (m.send_date < ? OR (m.send_date = ? AND m.id < ?))
		ORDER BY m.send_date DESC, m.id DESC
		LIMIT ?
	`, chatID, stamp, stamp, id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.ChatMessage, 0, limit)
	for rows.Next() {
		msg, err := m.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	if err := m.attachFiles(ctx, m.db, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ResolveFiles returns the summaries of the ids that exist.
func (m *Manager) ResolveFiles(ctx context.Context, ids []string) ([]types.FileSummary, error) {
	ids = types.NormalizeAttachmentIDs(ids)
	if len(ids) == 0 {
		return []types.FileSummary{}, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, path FROM files
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY name, id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	files := []types.FileSummary{}
	for rows.Next() {
		var f types.FileSummary
		var path sql.NullString
		if err := rows.Scan(&f.ID, &f.Name, &path); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		f.FileURL = m.media.URL(nullString(path))
		files = append(files, f)
	}
	return files, rows.Err()
}

// ResolveUser returns the public summary of a user.
func (m *Manager) ResolveUser(ctx context.Context, userID string) (*types.UserSummary, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var u types.UserSummary
	var imagePath sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, f.path
		FROM users u
		LEFT JOIN files f ON f.id = u.profile_image_id
		WHERE u.id = ?
	`, userID).Scan(&u.ID, &u.Username, &imagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.ProfileImageURL = m.media.URL(nullString(imagePath))
	return &u, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const messageSelect = `
	SELECT m.id, m.chat_id, m.send_date, m.content, u.id, u.username, pf.path
	FROM messages m
	JOIN users u ON u.id = m.sender_id
	LEFT JOIN files pf ON pf.id = u.profile_image_id
`

func (m *Manager) fetchMessage(ctx context.Context, q querier, messageID string) (*types.ChatMessage, error) {
	msg, err := m.scanMessage(q.QueryRowContext(ctx, messageSelect+" WHERE m.id = ?", messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := m.attachFiles(ctx, q, []*types.ChatMessage{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

func (m *Manager) scanMessage(row rowScanner) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	var sendDate string
	var imagePath sql.NullString
	err := row.Scan(&msg.ID, &msg.ChatID, &sendDate, &msg.Content, &msg.Sender.ID, &msg.Sender.Username, &imagePath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message row: %w", err)
	}
	msg.SendDate, err = time.Parse(sqliteTimeLayout, sendDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse send_date %q: %w", sendDate, err)
	}
	msg.Sender.ProfileImageURL = m.media.URL(nullString(imagePath))
	msg.Attached = []types.FileSummary{}
	return &msg, nil
}

// attachFiles loads attachments for every message in one query.
func (m *Manager) attachFiles(ctx context.Context, q querier, messages []*types.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	byID := make(map[string]*types.ChatMessage, len(messages))
	args := make([]any, len(messages))
	for i, msg := range messages {
		byID[msg.ID] = msg
		args[i] = msg.ID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT ma.message_id, f.id, f.name, f.path
		FROM message_attachments ma
		JOIN files f ON f.id = ma.file_id
		WHERE ma.message_id IN (`+placeholders(len(messages))+`)
		ORDER BY f.name, f.id
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var messageID string
		var f types.FileSummary
		var path sql.NullString
		if err := rows.Scan(&messageID, &f.ID, &f.Name, &path); err != nil {
			return fmt.Errorf("failed to scan attachment row: %w", err)
		}
		f.FileURL = m.media.URL(nullString(path))
		if msg, ok := byID[messageID]; ok {
			msg.Attached = append(msg.Attached, f)
		}
	}
	return rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
