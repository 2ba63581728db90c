package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"promanchat/internal/metrics"
	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// Config bounds what a session may send.
type Config struct {
	MaxContentLength  int
	MessagesPerMinute int
	// PersistTimeout bounds CreateMessage independently of the session.
	PersistTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxContentLength:  types.DefaultMaxContentLength,
		MessagesPerMinute: DefaultMessagesPerMinute,
		PersistTimeout:    5 * time.Second,
	}
}

// Router turns decoded frames from a joined session into persisted messages
// and room broadcasts.
type Router struct {
	store       interfaces.MessageStore
	broadcaster interfaces.Broadcaster
	limiter     *RateLimiter
	config      Config
	logger      zerolog.Logger
}

func NewRouter(store interfaces.MessageStore, broadcaster interfaces.Broadcaster, config Config, logger zerolog.Logger) *Router {
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = types.DefaultMaxContentLength
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultConfig().PersistTimeout
	}
	return &Router{
		store:       store,
		broadcaster: broadcaster,
		limiter:     NewRateLimiter(config.MessagesPerMinute, time.Minute),
		config:      config,
		logger:      logger.With().Str("component", "router").Logger(),
	}
}

// RunMaintenance prunes idle rate limit state until ctx is canceled.
func (r *Router) RunMaintenance(ctx context.Context) {
	r.limiter.Run(ctx)
}

// Dispatch handles one frame. Errors describe why the frame produced no
// broadcast; none of them is fatal to the session.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, frame types.Frame) error {
	if conn == nil {
		return ErrNilConnection
	}
	switch f := frame.(type) {
	case types.ChatMessageFrame:
		return r.handleChatMessage(ctx, conn, f)
	case types.UserTypingFrame:
		return r.handleTyping(ctx, conn, f)
	default:
		return nil
	}
}

func (r *Router) handleChatMessage(ctx context.Context, conn interfaces.Connection, f types.ChatMessageFrame) error {
	log := r.logger.With().Str("chat_id", conn.RoomID()).Str("user_id", conn.UserID()).Logger()

	if !r.limiter.Allow(conn.UserID()) {
		metrics.RejectedFrames.WithLabelValues("rate_limited").Inc()
		r.replyError(conn, types.ErrorCodeRateLimited, "too many messages, slow down")
		return ErrRateLimitExceeded
	}

	if err := types.ValidateContent(f.Message, r.config.MaxContentLength); err != nil {
		metrics.RejectedFrames.WithLabelValues("invalid_message").Inc()
		r.replyError(conn, types.ErrorCodeInvalidMessage, err.Error())
		return err
	}

	// FUNCTIONAL DISCOVERY: the write and its fan-out outlive the session's
	// context; a sender leaving mid-send must not strand a stored message.
	detached := context.WithoutCancel(ctx)
	persistCtx, cancel := context.WithTimeout(detached, r.config.PersistTimeout)
	defer cancel()

	started := time.Now()
	msg, err := r.store.CreateMessage(persistCtx, conn.RoomID(), conn.UserID(), f.Message, types.NormalizeAttachmentIDs(f.AttachedFiles))
	metrics.StoreLatency.WithLabelValues("create_message").Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.PersistenceFailures.Inc()
		log.Error().Err(err).Msg("failed to persist chat message")
		r.replyError(conn, types.ErrorCodePersistenceFailed, "message was not saved")
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	metrics.MessagesPersisted.Inc()

	delivered, err := r.broadcaster.Broadcast(detached, conn.RoomID(), types.NewChatMessageEvent(msg), "")
	if err != nil {
		return fmt.Errorf("broadcast message %s: %w", msg.ID, err)
	}
	log.Debug().Str("message_id", msg.ID).Int("recipients", delivered).Msg("chat message delivered")
	return nil
}

func (r *Router) handleTyping(ctx context.Context, conn interfaces.Connection, f types.UserTypingFrame) error {
	event := types.NewUserTypingEvent(conn.User(), f.IsTyping)
	if _, err := r.broadcaster.Broadcast(ctx, conn.RoomID(), event, conn.UserID()); err != nil {
		return fmt.Errorf("broadcast typing: %w", err)
	}
	return nil
}

// replyError sends an error frame to the offending session only.
func (r *Router) replyError(conn interfaces.Connection, code, detail string) {
	payload, err := json.Marshal(types.NewErrorEvent(code, detail))
	if err != nil {
		return
	}
	if !conn.TrySend(payload) {
		r.logger.Debug().Str("session_id", conn.SessionID()).Str("code", code).Msg("error frame dropped")
	}
}
