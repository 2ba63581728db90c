package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"promanchat/internal/api"
	"promanchat/internal/app"
	"promanchat/internal/config"
	"promanchat/internal/database"
)

// chatEnv is a full server on a temporary SQLite database with the demo
// project (room R1) and a second project owned by carol (room R2).
type chatEnv struct {
	app     *app.Application
	server  *httptest.Server
	fixture *database.DemoFixture
	room2   string
}

func newChatEnv(t *testing.T, tweaks ...func(*config.Config)) *chatEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "chat.db")
	cfg.Media.BaseURL = "https://media.example.com/media/"
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)

	fixture, err := database.SeedDemo(ctx, application.Seeder())
	require.NoError(t, err)
	_, room2, err := application.Seeder().CreateProject(ctx, "Gemini", fixture.SupervisorID)
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = application.Close(closeCtx)
		server.Close()
	})
	return &chatEnv{app: application, server: server, fixture: fixture, room2: room2}
}

func (e *chatEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.app.Tokens().Issue(userID)
	require.NoError(t, err)
	return token
}

func (e *chatEnv) wsURL(chatID string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws/chat/" + chatID
}

// join dials the chat and waits until the server has registered the session.
func (e *chatEnv) join(t *testing.T, chatID, userID string) *websocket.Conn {
	t.Helper()
	before := e.connections(t, chatID)

	header := http.Header{"Authorization": []string{"Bearer " + e.token(t, userID)}}
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(chatID), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.connections(t, chatID) == before+1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// connections reads the room size through the REST API as the chat owner
// or supervisor, whichever belongs to the chat.
func (e *chatEnv) connections(t *testing.T, chatID string) int {
	t.Helper()
	viewer := e.fixture.OwnerID
	if chatID == e.room2 {
		viewer = e.fixture.SupervisorID
	}
	req, err := http.NewRequest(http.MethodGet, e.server.URL+"/api/chats/"+chatID+"/connections", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token(t, viewer))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.ConnectionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.ConnectionCount
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

// readFrame decodes the next text frame into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame), string(data))
	return frame
}

// expectSilence asserts no frame arrives within d. The connection is
// unusable for reads afterwards.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, fmt.Sprintf("unexpected frame %s", data))
}

func dialStatus(t *testing.T, url string, header http.Header) int {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		conn.Close()
		return http.StatusSwitchingProtocols
	}
	require.NotNil(t, resp, err)
	return resp.StatusCode
}
