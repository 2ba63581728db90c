package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"promanchat/internal/auth"
	"promanchat/internal/metrics"
	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// Admitter runs the pre-upgrade handshake for one chat.
type Admitter interface {
	Admit(r *http.Request, chatID string) (*auth.Admission, error)
}

// HandlerConfig carries heartbeat and framing limits.
type HandlerConfig struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	MaxMessageBytes  int64
	HandshakeTimeout time.Duration
	// AllowedOrigins empty means any origin.
	AllowedOrigins []string
	Connection     ConnectionConfig
}

func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxMessageBytes:  64 * 1024,
		HandshakeTimeout: 10 * time.Second,
		Connection:       DefaultConnectionConfig(),
	}
}

// Handler is the chat gateway: it admits, upgrades and joins sockets, then
// feeds decoded frames to the dispatcher in receive order.
type Handler struct {
	registry   *Registry
	gate       Admitter
	dispatcher interfaces.FrameDispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	// mu orders joins against Shutdown; once closing is set no session
	// joins and sessions.Add is never called again.
	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

func NewHandler(registry *Registry, gate Admitter, dispatcher interfaces.FrameDispatcher, config HandlerConfig, logger zerolog.Logger) *Handler {
	h := &Handler{
		registry:   registry,
		gate:       gate,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws/chat/{chatID}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	log := h.logger.With().Str("chat_id", chatID).Str("remote_addr", r.RemoteAddr).Logger()
	log.Debug().Stringer("state", StateConnecting).Msg("session state")

	if chatID == "" {
		http.Error(w, "chat id required", http.StatusNotFound)
		return
	}
	if h.isClosing() {
		metrics.Handshakes.WithLabelValues("shutting_down").Inc()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	log.Debug().Stringer("from", StateConnecting).Stringer("to", StateAuthorizing).Msg("session state")
	admission, err := h.gate.Admit(r, chatID)
	if err != nil {
		status := auth.StatusCode(err)
		metrics.Handshakes.WithLabelValues(handshakeResult(err)).Inc()
		log.Info().Err(err).Int("status", status).Stringer("to", StateClosed).Msg("handshake rejected")
		http.Error(w, http.StatusText(status), status)
		return
	}

	var responseHeader http.Header
	if proto := auth.NegotiatedSubprotocol(r); proto != "" {
		responseHeader = http.Header{"Sec-Websocket-Protocol": []string{proto}}
	}
	ws, err := h.upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		// the upgrader has already written the HTTP error
		metrics.Handshakes.WithLabelValues("upgrade_failed").Inc()
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	if h.config.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.config.MaxMessageBytes)
	}

	conn := NewConnection(ws, admission.Identity, admission.User, chatID, h.config.Connection, h.logger)
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		metrics.Handshakes.WithLabelValues("shutting_down").Inc()
		conn.Logger().Debug().Msg("gateway closing, dropping upgraded socket")
		_ = conn.Close()
		return
	}
	if err := h.registry.Join(chatID, conn); err != nil {
		h.mu.Unlock()
		conn.Logger().Error().Err(err).Msg("failed to join room")
		_ = conn.Close()
		return
	}
	h.sessions.Add(1)
	h.mu.Unlock()

	conn.setState(StateJoined)
	metrics.Handshakes.WithLabelValues("joined").Inc()
	metrics.ActiveConnections.Inc()

	go func() {
		defer h.sessions.Done()
		h.handleConnection(conn, ws)
	}()
}

func handshakeResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, auth.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, auth.ErrMembershipUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// handleConnection runs the read loop until the socket fails or closes.
// Leaving the room and closing the session happen on every exit path.
func (h *Handler) handleConnection(conn *Connection, ws *websocket.Conn) {
	log := conn.Logger()
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("read loop panicked")
		}
		h.registry.Leave(conn.RoomID(), conn)
		_ = conn.Close()
		metrics.ActiveConnections.Dec()
		conn.setState(StateClosed)
	}()

	readTimeout := h.config.ReadTimeout
	if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}

		if messageType != websocket.TextMessage {
			metrics.FramesReceived.WithLabelValues("binary").Inc()
			continue
		}

		frame, err := types.DecodeFrame(data)
		if err != nil {
			metrics.FramesReceived.WithLabelValues("malformed").Inc()
			log.Debug().Err(err).Msg("ignoring frame")
			continue
		}
		h.dispatch(conn, frame)
	}
}

// dispatch hands one frame to the dispatcher. A panic is contained to the
// frame that caused it.
func (h *Handler) dispatch(conn *Connection, frame types.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			conn.Logger().Error().
				Interface("panic", rec).
				Str("frame_type", frame.FrameType()).
				Bytes("stack", debug.Stack()).
				Msg("dispatch panicked")
		}
	}()

	label := frame.FrameType()
	if _, ignored := frame.(types.IgnoredFrame); ignored {
		label = "ignored"
	}
	metrics.FramesReceived.WithLabelValues(label).Inc()

	if err := h.dispatcher.Dispatch(conn.Context(), conn, frame); err != nil {
		conn.Logger().Debug().Err(err).Str("frame_type", frame.FrameType()).Msg("frame not delivered")
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	if h.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// Shutdown stops new joins, closes every session and waits for their read
// loops to finish. Sockets upgraded after this point are closed unjoined.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	closed := h.registry.CloseAll()
	h.logger.Info().Int("sessions", closed).Msg("closing chat sessions")

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sessions still open: %w", ctx.Err())
	}
}
