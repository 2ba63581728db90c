package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

type fakeConn struct {
	session string
	user    string
	room    string
	full    bool

	mu       sync.Mutex
	received [][]byte
}

func (c *fakeConn) SessionID() string       { return c.session }
func (c *fakeConn) UserID() string          { return c.user }
func (c *fakeConn) User() types.UserSummary { return types.UserSummary{ID: c.user} }
func (c *fakeConn) RoomID() string          { return c.room }
func (c *fakeConn) Close() error            { return nil }

func (c *fakeConn) TrySend(payload []byte) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, payload)
	return true
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.received...)
}

type fakeRooms map[string][]interfaces.Connection

func (r fakeRooms) Snapshot(roomID string) []interfaces.Connection { return r[roomID] }

// loopbackRelay delivers every publish straight to its subscriber.
type loopbackRelay struct {
	mu         sync.Mutex
	deliver    func(string, []byte, string) int
	publishErr error
	published  int
}

func (l *loopbackRelay) Publish(_ context.Context, roomID string, payload []byte, exclude string) error {
	l.mu.Lock()
	deliver, err := l.deliver, l.publishErr
	l.published++
	l.mu.Unlock()
	if err != nil {
		return err
	}
	deliver(roomID, payload, exclude)
	return nil
}

func (l *loopbackRelay) Subscribe(_ context.Context, deliver func(string, []byte, string) int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deliver = deliver
	return nil
}

func newRoom() (fakeRooms, *fakeConn, *fakeConn, *fakeConn, *fakeConn) {
	alice1 := &fakeConn{session: "a1", user: "alice", room: "r1"}
	alice2 := &fakeConn{session: "a2", user: "alice", room: "r1"}
	bob := &fakeConn{session: "b1", user: "bob", room: "r1"}
	carol := &fakeConn{session: "c1", user: "carol", room: "r2"}
	rooms := fakeRooms{
		"r1": {alice1, alice2, bob},
		"r2": {carol},
	}
	return rooms, alice1, alice2, bob, carol
}

func TestBroadcast_IncludesEveryoneWithoutExclusion(t *testing.T) {
	rooms, alice1, alice2, bob, carol := newRoom()
	h := NewHub(rooms, nil, zerolog.Nop())

	n, err := h.Broadcast(context.Background(), "r1", types.NewUserTypingEvent(types.UserSummary{ID: "x"}, true), "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, c := range []*fakeConn{alice1, alice2, bob} {
		frames := c.frames()
		require.Len(t, frames, 1, c.session)
		assert.JSONEq(t, `{"type":"user_typing","user":{"id":"x","username":"","profile_image_url":null},"is_typing":true}`, string(frames[0]))
	}
	assert.Empty(t, carol.frames(), "no cross-room delivery")
}

func TestBroadcast_ExcludesEverySessionOfUser(t *testing.T) {
	rooms, alice1, alice2, bob, _ := newRoom()
	h := NewHub(rooms, nil, zerolog.Nop())

	n, err := h.Broadcast(context.Background(), "r1", map[string]string{"type": "user_typing"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, alice1.frames())
	assert.Empty(t, alice2.frames())
	assert.Len(t, bob.frames(), 1)
}

func TestBroadcast_UnknownRoom(t *testing.T) {
	rooms, _, _, _, _ := newRoom()
	h := NewHub(rooms, nil, zerolog.Nop())

	n, err := h.Broadcast(context.Background(), "missing", map[string]string{"type": "x"}, "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBroadcast_FullSessionIsSkipped(t *testing.T) {
	rooms, alice1, _, bob, _ := newRoom()
	alice1.full = true
	h := NewHub(rooms, nil, zerolog.Nop())

	n, err := h.Broadcast(context.Background(), "r1", map[string]string{"type": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, alice1.frames())
	assert.Len(t, bob.frames(), 1)
}

func TestBroadcast_EncodeFailure(t *testing.T) {
	rooms, _, _, bob, _ := newRoom()
	h := NewHub(rooms, nil, zerolog.Nop())

	_, err := h.Broadcast(context.Background(), "r1", make(chan int), "")
	require.ErrorIs(t, err, ErrEncodeEvent)
	assert.Empty(t, bob.frames())
}

func TestBroadcast_SequentialOrder(t *testing.T) {
	rooms, _, _, bob, _ := newRoom()
	h := NewHub(rooms, nil, zerolog.Nop())

	for i := 0; i < 10; i++ {
		_, err := h.Broadcast(context.Background(), "r1", map[string]int{"seq": i}, "")
		require.NoError(t, err)
	}
	frames := bob.frames()
	require.Len(t, frames, 10)
	for i, f := range frames {
		var got map[string]int
		require.NoError(t, json.Unmarshal(f, &got))
		assert.Equal(t, i, got["seq"])
	}
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(fakeRooms{}, nil, zerolog.Nop())

	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
}

func TestHub_RelayDeliversOnSubscription(t *testing.T) {
	rooms, alice1, alice2, bob, _ := newRoom()
	relay := &loopbackRelay{}
	h := NewHub(rooms, relay, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	n, err := h.Broadcast(context.Background(), "r1", map[string]string{"type": "x"}, "alice")
	require.NoError(t, err)
	assert.Zero(t, n, "delivery happens on the subscription")
	assert.Equal(t, 1, relay.published)
	assert.Empty(t, alice1.frames())
	assert.Empty(t, alice2.frames())
	assert.Len(t, bob.frames(), 1, "delivered exactly once")
}

func TestHub_RelayFailureFallsBackToLocal(t *testing.T) {
	rooms, _, _, bob, _ := newRoom()
	relay := &loopbackRelay{publishErr: errors.New("redis down")}
	h := NewHub(rooms, relay, zerolog.Nop())
	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()

	n, err := h.Broadcast(context.Background(), "r1", map[string]string{"type": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, bob.frames(), 1)
}

func TestHub_RelayUnusedUntilStarted(t *testing.T) {
	rooms, _, _, bob, _ := newRoom()
	relay := &loopbackRelay{}
	h := NewHub(rooms, relay, zerolog.Nop())

	n, err := h.Broadcast(context.Background(), "r1", map[string]string{"type": "x"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Zero(t, relay.published)
	assert.Len(t, bob.frames(), 1)
}
