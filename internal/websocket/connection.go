package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"promanchat/internal/metrics"
	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// Transport is the write side of a websocket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionConfig tunes the per-session send path.
type ConnectionConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	// MaxConsecutiveDrops closes the session after that many frames in a
	// row were dropped. Zero disables the cutoff.
	MaxConsecutiveDrops int
}

// DefaultConnectionConfig returns the production send path settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendBuffer:          100,
		WriteTimeout:        5 * time.Second,
		MaxConsecutiveDrops: 32,
	}
}

// Connection is one joined chat session.
// ARCHITECTURAL DISCOVERY: websocket writes must be serialized; every frame
// goes through writeCh to a single writer goroutine.
type Connection struct {
	transport Transport
	sessionID string
	identity  types.Identity
	user      types.UserSummary
	roomID    string
	config    ConnectionConfig
	logger    zerolog.Logger

	writeCh   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	drops     atomic.Int32
	state     atomic.Int32
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps an upgraded socket for roomID and starts its writer.
func NewConnection(transport Transport, identity types.Identity, user types.UserSummary, roomID string, config ConnectionConfig, logger zerolog.Logger) *Connection {
	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultConnectionConfig().SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConnectionConfig().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	sessionID := uuid.NewString()
	c := &Connection{
		transport: transport,
		sessionID: sessionID,
		identity:  identity,
		user:      user,
		roomID:    roomID,
		config:    config,
		logger: logger.With().
			Str("session_id", sessionID).
			Str("user_id", identity.UserID).
			Str("chat_id", roomID).
			Logger(),
		writeCh: make(chan []byte, config.SendBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.state.Store(int32(StateAuthorizing))

	go c.writeLoop()
	return c
}

// writeLoop is the only goroutine that writes data frames. writeCh is never
// closed; the loop exits on cancellation so late senders cannot panic.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.transport.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed, closing session")
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// TrySend enqueues payload without blocking.
func (c *Connection) TrySend(payload []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.writeCh <- payload:
		c.drops.Store(0)
		return true
	default:
	}

	n := int(c.drops.Add(1))
	if limit := c.config.MaxConsecutiveDrops; limit > 0 && n >= limit {
		c.logger.Warn().Int("dropped", n).Msg("slow consumer, closing session")
		metrics.SlowConsumerDisconnects.Inc()
		_ = c.Close()
	}
	return false
}

// Ping sends a ping control frame. Control frames may be written
// concurrently with the writer goroutine.
func (c *Connection) Ping() error {
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
}

// Close cancels the session and closes the socket. Safe to call many times.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}

// Context is cancelled when the session closes.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed when the session closes.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Connection) SessionID() string        { return c.sessionID }
func (c *Connection) UserID() string           { return c.identity.UserID }
func (c *Connection) Identity() types.Identity { return c.identity }
func (c *Connection) User() types.UserSummary  { return c.user }
func (c *Connection) RoomID() string           { return c.roomID }
func (c *Connection) Logger() *zerolog.Logger  { return &c.logger }
func (c *Connection) State() State             { return State(c.state.Load()) }

// setState records a forward transition and logs it.
func (c *Connection) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev != next {
		c.logger.Debug().Stringer("from", prev).Stringer("to", next).Msg("session state")
	}
}
