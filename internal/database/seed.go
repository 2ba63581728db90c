package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Seeder writes fixture rows: users, files, projects with their chats and
// project roles. It backs tests and the -seed-demo flag.
type Seeder struct {
	exec  func(ctx context.Context, query string, args ...any) error
	stamp func(time.Time) any
}

// Seeder returns a seeder whose writes go through the single writer.
func (m *Manager) Seeder() *Seeder {
	return &Seeder{exec: func(ctx context.Context, query string, args ...any) error {
		return m.executeWrite(ctx, func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, query, args...)
			return err
		})
	}, stamp: func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) }}
}

// CreateUser inserts a user and returns its id.
func (s *Seeder) CreateUser(ctx context.Context, username string) (string, error) {
	id := uuid.NewString()
	if err := s.exec(ctx, "INSERT INTO users (id, username) VALUES (?, ?)", id, username); err != nil {
		return "", fmt.Errorf("failed to seed user %s: %w", username, err)
	}
	return id, nil
}

// CreateFile inserts a file row. An empty path stores NULL.
func (s *Seeder) CreateFile(ctx context.Context, name, path, uploaderID string) (string, error) {
	id := uuid.NewString()
	var storedPath, uploader any
	if path != "" {
		storedPath = path
	}
	if uploaderID != "" {
		uploader = uploaderID
	}
	if err := s.exec(ctx, "INSERT INTO files (id, name, path, uploader_id) VALUES (?, ?, ?, ?)", id, name, storedPath, uploader); err != nil {
		return "", fmt.Errorf("failed to seed file %s: %w", name, err)
	}
	return id, nil
}

func (s *Seeder) SetProfileImage(ctx context.Context, userID, fileID string) error {
	return s.exec(ctx, "UPDATE users SET profile_image_id = ? WHERE id = ?", fileID, userID)
}

// CreateProject creates a project and its chat. It returns both ids.
func (s *Seeder) CreateProject(ctx context.Context, title, ownerID string) (projectID, chatID string, err error) {
	projectID, chatID = uuid.NewString(), uuid.NewString()
	if err = s.exec(ctx, "INSERT INTO chats (id) VALUES (?)", chatID); err != nil {
		return "", "", fmt.Errorf("failed to seed chat: %w", err)
	}
	if err = s.exec(ctx, "INSERT INTO projects (id, title, owner_id, chat_id) VALUES (?, ?, ?, ?)", projectID, title, ownerID, chatID); err != nil {
		return "", "", fmt.Errorf("failed to seed project %s: %w", title, err)
	}
	return projectID, chatID, nil
}

// CreateOrphanChat creates a chat that no project owns.
func (s *Seeder) CreateOrphanChat(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := s.exec(ctx, "INSERT INTO chats (id) VALUES (?)", id); err != nil {
		return "", fmt.Errorf("failed to seed chat: %w", err)
	}
	return id, nil
}

func (s *Seeder) AddSupervisor(ctx context.Context, projectID, userID string) error {
	return s.exec(ctx, "INSERT INTO project_supervisors (project_id, user_id) VALUES (?, ?)", projectID, userID)
}

func (s *Seeder) AddMember(ctx context.Context, projectID, userID string) error {
	return s.exec(ctx, "INSERT INTO project_members (project_id, user_id) VALUES (?, ?)", projectID, userID)
}

func (s *Seeder) RemoveMember(ctx context.Context, projectID, userID string) error {
	return s.exec(ctx, "DELETE FROM project_members WHERE project_id = ? AND user_id = ?", projectID, userID)
}

// DeleteProject removes a project; its chat and messages go with it.
func (s *Seeder) DeleteProject(ctx context.Context, projectID string) error {
	return s.exec(ctx, "DELETE FROM projects WHERE id = ?", projectID)
}

// SetSendDate backdates a message, for fixtures that need equal timestamps.
func (s *Seeder) SetSendDate(ctx context.Context, messageID string, at time.Time) error {
	return s.exec(ctx, "UPDATE messages SET send_date = ? WHERE id = ?", s.stamp(at), messageID)
}

// DemoFixture is the data created by SeedDemo.
type DemoFixture struct {
	OwnerID      string
	MemberID     string
	SupervisorID string
	OutsiderID   string
	ProjectID    string
	ChatID       string
	FileID       string
}

// SeedDemo creates a small project with one user per role plus an outsider.
func SeedDemo(ctx context.Context, s *Seeder) (*DemoFixture, error) {
	var fx DemoFixture
	var err error

	users := []struct {
		name string
		dst  *string
	}{
		{"alice", &fx.OwnerID},
		{"bob", &fx.MemberID},
		{"carol", &fx.SupervisorID},
		{"mallory", &fx.OutsiderID},
	}
	for _, u := range users {
		if *u.dst, err = s.CreateUser(ctx, u.name); err != nil {
			return nil, err
		}
	}

	if fx.ProjectID, fx.ChatID, err = s.CreateProject(ctx, "Apollo", fx.OwnerID); err != nil {
		return nil, err
	}
	if err = s.AddMember(ctx, fx.ProjectID, fx.MemberID); err != nil {
		return nil, err
	}
	if err = s.AddSupervisor(ctx, fx.ProjectID, fx.SupervisorID); err != nil {
		return nil, err
	}
	if fx.FileID, err = s.CreateFile(ctx, "roadmap.pdf", "uploads/roadmap.pdf", fx.OwnerID); err != nil {
		return nil, err
	}
	return &fx, nil
}
