package database

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

const testMediaBase = "https://media.example.com/media/"

// runStoreContract exercises behavior every ChatStore must share.
func runStoreContract(t *testing.T, store interfaces.ChatStore, seeder *Seeder) {
	ctx := context.Background()
	fx, err := SeedDemo(ctx, seeder)
	require.NoError(t, err)

	t.Run("membership", func(t *testing.T) {
		orphan, err := seeder.CreateOrphanChat(ctx)
		require.NoError(t, err)

		tests := []struct {
			name   string
			userID string
			chatID string
			want   bool
		}{
			{"owner", fx.OwnerID, fx.ChatID, true},
			{"member", fx.MemberID, fx.ChatID, true},
			{"supervisor", fx.SupervisorID, fx.ChatID, true},
			{"outsider", fx.OutsiderID, fx.ChatID, false},
			{"chat without project", fx.OwnerID, orphan, false},
			{"unknown chat", fx.OwnerID, uuid.NewString(), false},
			{"malformed chat id", fx.OwnerID, "not-a-uuid", false},
			{"malformed user id", "bob", fx.ChatID, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := store.IsAuthorized(ctx, tt.userID, tt.chatID)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("create message resolves relations", func(t *testing.T) {
		avatar, err := seeder.CreateFile(ctx, "alice.png", "avatars/alice.png", fx.OwnerID)
		require.NoError(t, err)
		require.NoError(t, seeder.SetProfileImage(ctx, fx.OwnerID, avatar))

		brief, err := seeder.CreateFile(ctx, "brief.txt", "", fx.OwnerID)
		require.NoError(t, err)

		before := time.Now().UTC().Add(-time.Second)
		msg, err := store.CreateMessage(ctx, fx.ChatID, fx.OwnerID, "kickoff at 10",
			[]string{fx.FileID, uuid.NewString(), "garbage", brief, fx.FileID})
		require.NoError(t, err)

		assert.True(t, uuid.MustParse(msg.ID) != uuid.Nil)
		assert.Equal(t, fx.ChatID, msg.ChatID)
		assert.Equal(t, "kickoff at 10", msg.Content)
		assert.True(t, msg.SendDate.After(before))
		assert.Equal(t, time.UTC, msg.SendDate.Location())

		assert.Equal(t, fx.OwnerID, msg.Sender.ID)
		assert.Equal(t, "alice", msg.Sender.Username)
		require.NotNil(t, msg.Sender.ProfileImageURL)
		assert.Equal(t, testMediaBase+"avatars/alice.png", *msg.Sender.ProfileImageURL)

		require.Len(t, msg.Attached, 2)
		assert.Equal(t, "brief.txt", msg.Attached[0].Name)
		assert.Nil(t, msg.Attached[0].FileURL)
		assert.Equal(t, "roadmap.pdf", msg.Attached[1].Name)
		require.NotNil(t, msg.Attached[1].FileURL)
		assert.Equal(t, testMediaBase+"uploads/roadmap.pdf", *msg.Attached[1].FileURL)

		fetched, err := store.GetMessage(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, msg.ID, fetched.ID)
		assert.Equal(t, msg.Attached, fetched.Attached)
		assert.True(t, msg.SendDate.Equal(fetched.SendDate))
	})

	t.Run("message without attachments has empty list", func(t *testing.T) {
		msg, err := store.CreateMessage(ctx, fx.ChatID, fx.MemberID, "no files", nil)
		require.NoError(t, err)
		assert.NotNil(t, msg.Attached)
		assert.Empty(t, msg.Attached)
		assert.Nil(t, msg.Sender.ProfileImageURL)
	})

	t.Run("unknown chat persists nothing", func(t *testing.T) {
		_, err := store.CreateMessage(ctx, uuid.NewString(), fx.OwnerID, "lost", []string{fx.FileID})
		assert.Error(t, err)
	})

	t.Run("content over column bound is rejected", func(t *testing.T) {
		_, err := store.CreateMessage(ctx, fx.ChatID, fx.OwnerID, strings.Repeat("x", 301), nil)
		assert.Error(t, err)
	})

	t.Run("get unknown message", func(t *testing.T) {
		_, err := store.GetMessage(ctx, uuid.NewString())
		assert.ErrorIs(t, err, interfaces.ErrMessageNotFound)
	})

	t.Run("resolve files", func(t *testing.T) {
		zeta, err := seeder.CreateFile(ctx, "zeta.md", "docs/zeta.md", "")
		require.NoError(t, err)
		alpha, err := seeder.CreateFile(ctx, "alpha.md", "docs/alpha.md", "")
		require.NoError(t, err)

		files, err := store.ResolveFiles(ctx, []string{zeta, "nope", uuid.NewString(), alpha})
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, alpha, files[0].ID)
		assert.Equal(t, zeta, files[1].ID)

		files, err = store.ResolveFiles(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("resolve user", func(t *testing.T) {
		u, err := store.ResolveUser(ctx, fx.MemberID)
		require.NoError(t, err)
		assert.Equal(t, "bob", u.Username)

		_, err = store.ResolveUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, interfaces.ErrUserNotFound)
	})

	t.Run("history pages newest first", func(t *testing.T) {
		_, chatID, err := seeder.CreateProject(ctx, "History", fx.OwnerID)
		require.NoError(t, err)

		var ids []string
		for i := 0; i < 5; i++ {
			msg, err := store.CreateMessage(ctx, chatID, fx.OwnerID, "m"+string(rune('0'+i)), nil)
			require.NoError(t, err)
			ids = append(ids, msg.ID)
			time.Sleep(2 * time.Millisecond)
		}

		page, err := store.ListMessages(ctx, chatID, types.HistoryCursor{}, 3)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{page[0].ID, page[1].ID, page[2].ID})

		older, err := store.ListMessages(ctx, chatID, types.CursorAt(page[2]), 10)
		require.NoError(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, ids[1], older[0].ID)
		assert.Equal(t, ids[0], older[1].ID)

		byDate, err := store.ListMessages(ctx, chatID, types.HistoryCursor{SendDate: page[2].SendDate}, 10)
		require.NoError(t, err)
		assert.Len(t, byDate, 2, "a date-only cursor excludes its own instant")
	})

	t.Run("messages sharing a timestamp page without gaps", func(t *testing.T) {
		_, chatID, err := seeder.CreateProject(ctx, "Ties", fx.OwnerID)
		require.NoError(t, err)

		at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
		want := map[string]bool{}
		for i := 0; i < 5; i++ {
			msg, err := store.CreateMessage(ctx, chatID, fx.MemberID, "tie", nil)
			require.NoError(t, err)
			require.NoError(t, seeder.SetSendDate(ctx, msg.ID, at))
			want[msg.ID] = true
		}

		seen := map[string]bool{}
		cursor := types.HistoryCursor{}
		for pages := 0; pages < 5; pages++ {
			page, err := store.ListMessages(ctx, chatID, cursor, 2)
			require.NoError(t, err)
			for _, msg := range page {
				assert.False(t, seen[msg.ID], "message %s served twice", msg.ID)
				seen[msg.ID] = true
			}
			if len(page) < 2 {
				break
			}
			cursor = types.CursorAt(page[len(page)-1])
		}
		assert.Equal(t, want, seen)
	})

	t.Run("concurrent writes all persist", func(t *testing.T) {
		_, chatID, err := seeder.CreateProject(ctx, "Busy", fx.OwnerID)
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.CreateMessage(ctx, chatID, fx.MemberID, "burst", nil)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		all, err := store.ListMessages(ctx, chatID, types.HistoryCursor{}, 100)
		require.NoError(t, err)
		assert.Len(t, all, writers)
	})

	t.Run("deleting the project removes the chat", func(t *testing.T) {
		projectID, chatID, err := seeder.CreateProject(ctx, "Doomed", fx.OwnerID)
		require.NoError(t, err)
		_, err = store.CreateMessage(ctx, chatID, fx.OwnerID, "bye", nil)
		require.NoError(t, err)

		require.NoError(t, seeder.DeleteProject(ctx, projectID))

		ok, err := store.IsAuthorized(ctx, fx.OwnerID, chatID)
		require.NoError(t, err)
		assert.False(t, ok)

		msgs, err := store.ListMessages(ctx, chatID, types.HistoryCursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("health check", func(t *testing.T) {
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
