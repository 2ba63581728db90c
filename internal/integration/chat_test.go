package integration

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promanchat/internal/api"
	"promanchat/internal/config"
	"promanchat/pkg/types"
)

func TestChat_MessageReachesRoomOnly(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	a := env.join(t, fx.ChatID, fx.OwnerID)
	b := env.join(t, fx.ChatID, fx.MemberID)
	c := env.join(t, env.room2, fx.SupervisorID)

	send(t, a, `{"type":"chat_message","message":"hi"}`)

	var ids []string
	for _, conn := range []*websocket.Conn{a, b} {
		frame := readFrame(t, conn)
		require.Equal(t, "chat_message", frame["type"])
		msg := frame["message"].(map[string]any)
		assert.Equal(t, "hi", msg["content"])
		assert.Equal(t, fx.ChatID, msg["chat"])
		assert.Equal(t, []any{}, msg["attached"])

		sender := msg["sender"].(map[string]any)
		assert.Equal(t, "alice", sender["username"])
		assert.Equal(t, fx.OwnerID, sender["id"])
		assert.Nil(t, sender["profile_image_url"])

		_, err := time.Parse(time.RFC3339Nano, msg["send_date"].(string))
		assert.NoError(t, err)
		ids = append(ids, msg["id"].(string))
	}
	assert.Equal(t, ids[0], ids[1], "every session sees the same persisted message")
	assert.True(t, types.IsValidID(ids[0]))

	expectSilence(t, c, 300*time.Millisecond)
}

func TestChat_AttachmentsResolvedAndUnknownDropped(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture
	b := env.join(t, fx.ChatID, fx.MemberID)

	frame := map[string]any{
		"type":           "chat_message",
		"message":        "see attached",
		"attached_files": []string{fx.FileID, "00000000-0000-4000-8000-000000000000", "garbage"},
	}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	send(t, b, string(data))

	got := readFrame(t, b)
	msg := got["message"].(map[string]any)
	attached := msg["attached"].([]any)
	require.Len(t, attached, 1)
	file := attached[0].(map[string]any)
	assert.Equal(t, fx.FileID, file["id"])
	assert.Equal(t, "roadmap.pdf", file["name"])
	assert.Equal(t, "https://media.example.com/media/uploads/roadmap.pdf", file["file_url"])
}

func TestChat_TypingSkipsEverySessionOfSender(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	aliceTab1 := env.join(t, fx.ChatID, fx.OwnerID)
	aliceTab2 := env.join(t, fx.ChatID, fx.OwnerID)
	bob := env.join(t, fx.ChatID, fx.MemberID)

	send(t, aliceTab1, `{"type":"user_typing","is_typing":true}`)

	frame := readFrame(t, bob)
	assert.Equal(t, "user_typing", frame["type"])
	assert.Equal(t, true, frame["is_typing"])
	assert.Equal(t, "alice", frame["user"].(map[string]any)["username"])

	expectSilence(t, aliceTab1, 300*time.Millisecond)
	expectSilence(t, aliceTab2, 100*time.Millisecond)
}

func TestChat_SupervisorMayJoin(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	carol := env.join(t, fx.ChatID, fx.SupervisorID)
	send(t, carol, `{"type":"chat_message","message":"checking in"}`)
	assert.Equal(t, "chat_message", readFrame(t, carol)["type"])
}

func TestChat_HandshakeRejections(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	bearer := func(userID string) http.Header {
		return http.Header{"Authorization": []string{"Bearer " + env.token(t, userID)}}
	}

	assert.Equal(t, http.StatusUnauthorized, dialStatus(t, env.wsURL(fx.ChatID), nil))
	assert.Equal(t, http.StatusUnauthorized, dialStatus(t, env.wsURL(fx.ChatID), http.Header{"Authorization": []string{"Bearer forged"}}))
	assert.Equal(t, http.StatusForbidden, dialStatus(t, env.wsURL(fx.ChatID), bearer(fx.OutsiderID)))
	assert.Equal(t, http.StatusForbidden, dialStatus(t, env.wsURL("not-a-chat"), bearer(fx.OwnerID)))
	assert.Equal(t, http.StatusForbidden, dialStatus(t, env.wsURL(env.room2), bearer(fx.MemberID)))

	assert.Zero(t, env.connections(t, fx.ChatID), "rejected clients never join")
}

func TestChat_QueryTokenAndTrailingSlash(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	target := env.wsURL(fx.ChatID) + "/?token=" + env.token(t, fx.MemberID)
	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.connections(t, fx.ChatID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestChat_InvalidContentGetsErrorFrame(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture
	a := env.join(t, fx.ChatID, fx.OwnerID)
	b := env.join(t, fx.ChatID, fx.MemberID)

	send(t, a, `{"type":"chat_message","message":"`+strings.Repeat("x", 301)+`"}`)
	frame := readFrame(t, a)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, types.ErrorCodeInvalidMessage, frame["error"])

	send(t, a, `this is not json`)
	send(t, a, `{"type":"chat_message","message":"still here"}`)
	assert.Equal(t, "still here", readFrame(t, a)["message"].(map[string]any)["content"])
	assert.Equal(t, "still here", readFrame(t, b)["message"].(map[string]any)["content"], "bob never saw the rejected frame")
}

func TestChat_RateLimit(t *testing.T) {
	env := newChatEnv(t, func(c *config.Config) { c.Chat.MessagesPerMinute = 2 })
	a := env.join(t, env.fixture.ChatID, env.fixture.OwnerID)

	for i := 0; i < 3; i++ {
		send(t, a, `{"type":"chat_message","message":"spam"}`)
	}
	assert.Equal(t, "chat_message", readFrame(t, a)["type"])
	assert.Equal(t, "chat_message", readFrame(t, a)["type"])
	frame := readFrame(t, a)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, types.ErrorCodeRateLimited, frame["error"])
}

func TestChat_DisconnectLeavesRoom(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture

	a := env.join(t, fx.ChatID, fx.OwnerID)
	env.join(t, fx.ChatID, fx.MemberID)
	require.Equal(t, 2, env.connections(t, fx.ChatID))

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return env.connections(t, fx.ChatID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestChat_HistoryMatchesLiveFrames(t *testing.T) {
	env := newChatEnv(t)
	fx := env.fixture
	a := env.join(t, fx.ChatID, fx.OwnerID)

	for _, text := range []string{"one", "two", "three"} {
		send(t, a, `{"type":"chat_message","message":"`+text+`"}`)
		readFrame(t, a)
	}

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/chats/"+fx.ChatID+"/messages?limit=2", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, fx.MemberID))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page api.HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "three", page.Messages[0].Content)
	assert.Equal(t, "two", page.Messages[1].Content)
	require.NotNil(t, page.NextBefore)

	req, err = http.NewRequest(http.MethodGet, env.server.URL+"/api/chats/"+fx.ChatID+"/messages?before="+url.QueryEscape(page.NextBefore.Format(time.RFC3339Nano))+"&before_id="+page.NextBeforeID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, fx.MemberID))
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()

	var older api.HistoryResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&older))
	require.Len(t, older.Messages, 1)
	assert.Equal(t, "one", older.Messages[0].Content)
}
