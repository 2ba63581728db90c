package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"promanchat/pkg/interfaces"
	"promanchat/pkg/types"
)

// Gate authenticates REST callers and checks chat membership.
type Gate interface {
	Authenticate(r *http.Request) (types.Identity, error)
	Authorize(ctx context.Context, identity types.Identity, chatID string) error
}

// Rooms exposes live registry figures.
type Rooms interface {
	RoomSize(roomID string) int
	Stats() map[string]int
}

// HistoryStore is the persistence the REST surface reads from.
type HistoryStore interface {
	ListMessages(ctx context.Context, chatID string, before types.HistoryCursor, limit int) ([]*types.ChatMessage, error)
	HealthCheck(ctx context.Context) error
}

// Pinger is an optional dependency reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	AllowedOrigins     []string
	HistoryPageSize    int
	HistoryMaxPageSize int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer holds no chat logic; it maps
// requests onto the store, the registry and the websocket gateway.
type Server struct {
	store   HistoryStore
	gate    Gate
	rooms   Rooms
	gateway http.Handler
	relay   Pinger
	options Options
	logger  zerolog.Logger
	router  chi.Router
}

// NewServer wires the routes. relay may be nil.
func NewServer(store HistoryStore, gate Gate, rooms Rooms, gateway http.Handler, relay Pinger, options Options, logger zerolog.Logger) *Server {
	if options.HistoryMaxPageSize <= 0 {
		options.HistoryMaxPageSize = 200
	}
	if options.HistoryPageSize <= 0 || options.HistoryPageSize > options.HistoryMaxPageSize {
		options.HistoryPageSize = min(50, options.HistoryMaxPageSize)
	}
	s := &Server{
		store:   store,
		gate:    gate,
		rooms:   rooms,
		gateway: gateway,
		relay:   relay,
		options: options,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(recordMetrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)

	origins := s.options.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/chat/{chatID}", s.gateway.ServeHTTP)

	r.Route("/api/chats/{chatID}", func(r chi.Router) {
		r.Use(s.requireMember)
		r.Get("/messages", s.listMessages)
		r.Get("/connections", s.connectionCount)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HistoryResponse struct {
	Chat     string               `json:"chat"`
	Messages []*types.ChatMessage `json:"messages"`
	// NextBefore and NextBeforeID page further back when the page was full.
	NextBefore   *time.Time `json:"next_before,omitempty"`
	NextBeforeID string     `json:"next_before_id,omitempty"`
}

type ConnectionsResponse struct {
	Chat            string `json:"chat"`
	ConnectionCount int    `json:"connection_count"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Relay       string         `json:"relay,omitempty"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// listMessages handles GET /api/chats/{chatID}/messages?limit=&before=&before_id=.
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	query := r.URL.Query()

	limit := s.options.HistoryPageSize
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, s.options.HistoryMaxPageSize)
	}

	var before types.HistoryCursor
	if raw := query.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.sendError(w, "before must be an RFC 3339 timestamp", http.StatusBadRequest)
			return
		}
		before.SendDate = t
	}
	before.ID = query.Get("before_id")
	if err := before.Validate(); err != nil {
		s.sendError(w, "before_id must be a message id and needs before", http.StatusBadRequest)
		return
	}

	messages, err := s.store.ListMessages(r.Context(), chatID, before, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("chat_id", chatID).Str("user_id", identityFrom(r.Context()).UserID).Msg("failed to list messages")
		s.sendError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}

	resp := HistoryResponse{Chat: chatID, Messages: messages}
	if len(messages) == limit {
		next := types.CursorAt(messages[len(messages)-1])
		resp.NextBefore, resp.NextBeforeID = &next.SendDate, next.ID
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// connectionCount handles GET /api/chats/{chatID}/connections.
func (s *Server) connectionCount(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	s.writeJSON(w, http.StatusOK, ConnectionsResponse{
		Chat:            chatID,
		ConnectionCount: s.rooms.RoomSize(chatID),
	})
}

// healthCheck handles GET /health. Any failing dependency turns it into 503.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.rooms.Stats(),
	}
	if err := s.store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
	}
	if s.relay != nil {
		resp.Relay = "healthy"
		if err := s.relay.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Relay = "error: " + err.Error()
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write response")
	}
}

// sendError writes the uniform error body.
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

var _ HistoryStore = interfaces.ChatStore(nil)
