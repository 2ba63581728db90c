package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"promanchat/internal/api"
	"promanchat/internal/auth"
	"promanchat/internal/config"
	"promanchat/internal/database"
	"promanchat/internal/hub"
	"promanchat/internal/relay"
	"promanchat/internal/router"
	"promanchat/internal/websocket"
	dbconfig "promanchat/pkg/database"
	"promanchat/pkg/interfaces"
)

// NewLogger builds the process logger: console output in development or
// when requested, JSON lines otherwise.
func NewLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.ConsoleLogs() {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "promanchat").Logger()
}

// Application coordinates all system components.
// Initialization order: store → relay → registry → hub → router → gateway → API → HTTP.
type Application struct {
	config   *config.Config
	logger   zerolog.Logger
	store    interfaces.ChatStore
	seeder   *database.Seeder
	relay    *relay.RedisRelay
	registry *websocket.Registry
	hub      *hub.Hub
	router   *router.Router
	gateway  *websocket.Handler
	tokens   *auth.TokenManager
	api      *api.Server
	server   *http.Server

	mu        sync.Mutex
	addr      net.Addr
	closeOnce sync.Once
	closeErr  error
}

func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, seeder, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var chatRelay *relay.RedisRelay
	var hubRelay hub.Relay
	var relayPinger api.Pinger
	if cfg.Redis.URL != "" {
		chatRelay, err = relay.NewRedisRelay(ctx, cfg.Redis.URL, cfg.Redis.ChannelPrefix, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect relay: %w", err)
		}
		hubRelay, relayPinger = chatRelay, chatRelay
		logger.Info().Str("prefix", cfg.Redis.ChannelPrefix).Msg("cross-instance relay enabled")
	}

	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(registry, hubRelay, logger)

	messageRouter := router.NewRouter(store, messageHub, router.Config{
		MaxContentLength:  cfg.Chat.MaxContentLength,
		MessagesPerMinute: cfg.Chat.MessagesPerMinute,
		PersistTimeout:    cfg.Database.Timeout,
	}, logger)

	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	gate := auth.NewGatekeeper(tokens, store, store, cfg.Database.Timeout, logger)

	gateway := websocket.NewHandler(registry, gate, messageRouter, websocket.HandlerConfig{
		PingInterval:     cfg.WebSocket.PingInterval,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		HandshakeTimeout: 10 * time.Second,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		Connection: websocket.ConnectionConfig{
			SendBuffer:          cfg.WebSocket.BufferSize,
			WriteTimeout:        cfg.WebSocket.WriteTimeout,
			MaxConsecutiveDrops: cfg.WebSocket.MaxConsecutiveDrops,
		},
	}, logger)

	apiServer := api.NewServer(store, gate, registry, gateway, relayPinger, api.Options{
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		HistoryPageSize:    cfg.Chat.HistoryPageSize,
		HistoryMaxPageSize: cfg.Chat.HistoryMaxPageSize,
	}, logger)

	return &Application{
		config:   cfg,
		logger:   logger,
		store:    store,
		seeder:   seeder,
		relay:    chatRelay,
		registry: registry,
		hub:      messageHub,
		router:   messageRouter,
		gateway:  gateway,
		tokens:   tokens,
		api:      apiServer,
		server: &http.Server{
			Addr:         cfg.ListenAddr(),
			Handler:      apiServer,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (interfaces.ChatStore, *database.Seeder, error) {
	dbCfg := dbconfig.DefaultConfig()
	dbCfg.Dialect = dbconfig.Dialect(cfg.Database.Driver)
	dbCfg.DatabasePath = cfg.Database.Path
	dbCfg.DSN = cfg.Database.DSN
	dbCfg.QueryTimeout = cfg.Database.Timeout
	if cfg.Database.MaxConnections > 0 {
		dbCfg.MaxConnections = cfg.Database.MaxConnections
	}
	media := database.MediaURLs{BaseURL: cfg.Media.BaseURL}

	switch dbCfg.Dialect {
	case dbconfig.DialectPostgres:
		store, err := database.NewPostgresStore(ctx, dbCfg, media, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, store.Seeder(), nil
	default:
		manager, err := database.NewManager(ctx, dbCfg, media, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return manager, manager.Seeder(), nil
	}
}

// Handler is the root HTTP handler, for embedding in test servers.
func (app *Application) Handler() http.Handler { return app.api }

// Seeder writes fixture rows through the active store.
func (app *Application) Seeder() *database.Seeder { return app.seeder }

func (app *Application) Tokens() *auth.TokenManager { return app.tokens }

// Addr is the bound listener address once Run is serving, nil before.
func (app *Application) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.addr
}

// Run serves until ctx is canceled or the server fails, then shuts every
// component down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		_ = app.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", app.server.Addr, err)
	}
	app.mu.Lock()
	app.addr = ln.Addr()
	app.mu.Unlock()
	app.logger.Info().Str("addr", ln.Addr().String()).Msg("promanchat listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.router.RunMaintenance(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Close(shutdownCtx)
	})
	return g.Wait()
}

// Close shuts components down in reverse dependency order:
// HTTP → sessions → hub → relay → store. It is safe to call more than once.
func (app *Application) Close(ctx context.Context) error {
	app.closeOnce.Do(func() {
		app.logger.Info().Msg("shutting down promanchat")
		var errs []error

		if err := app.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := app.gateway.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway shutdown: %w", err))
		}
		if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
			errs = append(errs, fmt.Errorf("hub stop: %w", err))
		}
		if app.relay != nil {
			if err := app.relay.Close(); err != nil {
				errs = append(errs, fmt.Errorf("relay close: %w", err))
			}
		}
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}

		app.closeErr = errors.Join(errs...)
		app.logger.Info().Err(app.closeErr).Msg("shutdown complete")
	})
	return app.closeErr
}
