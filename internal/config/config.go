package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// EnvPrefix namespaces every environment variable read by LoadFromEnv.
const EnvPrefix = "PROMANCHAT_"

// DevJWTSecret is the signing secret used when none is configured. It is
// rejected in production.
const DevJWTSecret = "promanchat-dev-secret"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	Environment string           `json:"environment"`
	Database    *DatabaseConfig  `json:"database"`
	HTTP        *HTTPConfig      `json:"http"`
	WebSocket   *WebSocketConfig `json:"websocket"`
	Auth        *AuthConfig      `json:"auth"`
	Redis       *RedisConfig     `json:"redis"`
	Media       *MediaConfig     `json:"media"`
	Chat        *ChatConfig      `json:"chat"`
	Log         *LogConfig       `json:"log"`
}

// DatabaseConfig selects the store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Path           string        `json:"path"`
	DSN            string        `json:"dsn"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

// FUNCTIONAL DISCOVERY: WebSocket configuration tuned for small project rooms
type WebSocketConfig struct {
	PingInterval        time.Duration `json:"ping_interval"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	BufferSize          int           `json:"buffer_size"`
	MaxMessageBytes     int64         `json:"max_message_bytes"`
	MaxConsecutiveDrops int           `json:"max_consecutive_drops"`
}

type AuthConfig struct {
	JWTSecret string        `json:"jwt_secret"`
	Issuer    string        `json:"issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// RedisConfig enables the cross-instance relay when URL is set.
type RedisConfig struct {
	URL           string `json:"url"`
	ChannelPrefix string `json:"channel_prefix"`
}

type MediaConfig struct {
	BaseURL string `json:"base_url"`
}

type ChatConfig struct {
	MaxContentLength   int `json:"max_content_length"`
	MessagesPerMinute  int `json:"messages_per_minute"`
	HistoryPageSize    int `json:"history_page_size"`
	HistoryMaxPageSize int `json:"history_max_page_size"`
}

// LogConfig: Format is "console" or "json"; empty picks console in
// development and json elsewhere.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns a development configuration backed by SQLite.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Database: &DatabaseConfig{
			Driver:         "sqlite",
			Path:           "./data/promanchat.db",
			Timeout:        5 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:        30 * time.Second,
			ReadTimeout:         60 * time.Second,
			WriteTimeout:        10 * time.Second,
			BufferSize:          100,
			MaxMessageBytes:     64 * 1024,
			MaxConsecutiveDrops: 32,
		},
		Auth: &AuthConfig{
			JWTSecret: DevJWTSecret,
			Issuer:    "promanchat",
			TokenTTL:  24 * time.Hour,
		},
		Redis: &RedisConfig{
			ChannelPrefix: "promanchat",
		},
		Media: &MediaConfig{
			BaseURL: "/media/",
		},
		Chat: &ChatConfig{
			MaxContentLength:   300,
			MessagesPerMinute:  100,
			HistoryPageSize:    50,
			HistoryMaxPageSize: 200,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// ConsoleLogs reports whether logs should use the human-readable writer.
func (c *Config) ConsoleLogs() bool {
	if c.Log.Format == "" {
		return c.IsDevelopment()
	}
	return c.Log.Format == "console"
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Auth == nil ||
		c.Redis == nil || c.Media == nil || c.Chat == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database DSN is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}

	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.ReadTimeout <= 0 || ws.WriteTimeout <= 0 {
		return errors.New("WebSocket timeouts must be positive")
	}
	if ws.PingInterval >= ws.ReadTimeout {
		return errors.New("WebSocket ping interval must be shorter than the read timeout")
	}
	if ws.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if ws.MaxMessageBytes <= 0 {
		return errors.New("WebSocket max message bytes must be positive")
	}
	if ws.MaxConsecutiveDrops <= 0 {
		return errors.New("WebSocket max consecutive drops must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret cannot be empty")
	}
	if c.Environment == "production" && c.Auth.JWTSecret == DevJWTSecret {
		return errors.New("JWT secret must be set in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("token TTL must be positive")
	}

	// the messages table rejects longer content
	if c.Chat.MaxContentLength <= 0 || c.Chat.MaxContentLength > 300 {
		return errors.New("chat max content length must be between 1 and 300")
	}
	if c.Chat.HistoryPageSize <= 0 || c.Chat.HistoryPageSize > c.Chat.HistoryMaxPageSize {
		return errors.New("chat history page size must be positive and within the maximum")
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// envReader applies PROMANCHAT_* variables and collects parse errors.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) integer64(key string, dst *int64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
}

// LoadFromEnv overlays PROMANCHAT_* environment variables on the defaults.
// Variables that fail to parse are reported together.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	e := &envReader{}

	e.str("ENVIRONMENT", &cfg.Environment)

	e.str("DATABASE_DRIVER", &cfg.Database.Driver)
	e.str("DATABASE_PATH", &cfg.Database.Path)
	e.str("DATABASE_DSN", &cfg.Database.DSN)
	e.duration("DATABASE_TIMEOUT", &cfg.Database.Timeout)
	e.integer("DATABASE_MAX_CONNECTIONS", &cfg.Database.MaxConnections)

	e.str("HTTP_HOST", &cfg.HTTP.Host)
	e.integer("HTTP_PORT", &cfg.HTTP.Port)
	e.duration("HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	e.duration("HTTP_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	e.list("HTTP_ALLOWED_ORIGINS", &cfg.HTTP.AllowedOrigins)

	e.duration("WEBSOCKET_PING_INTERVAL", &cfg.WebSocket.PingInterval)
	e.duration("WEBSOCKET_READ_TIMEOUT", &cfg.WebSocket.ReadTimeout)
	e.duration("WEBSOCKET_WRITE_TIMEOUT", &cfg.WebSocket.WriteTimeout)
	e.integer("WEBSOCKET_BUFFER_SIZE", &cfg.WebSocket.BufferSize)
	e.integer64("WEBSOCKET_MAX_MESSAGE_BYTES", &cfg.WebSocket.MaxMessageBytes)
	e.integer("WEBSOCKET_MAX_CONSECUTIVE_DROPS", &cfg.WebSocket.MaxConsecutiveDrops)

	e.str("AUTH_JWT_SECRET", &cfg.Auth.JWTSecret)
	e.str("AUTH_ISSUER", &cfg.Auth.Issuer)
	e.duration("AUTH_TOKEN_TTL", &cfg.Auth.TokenTTL)

	e.str("REDIS_URL", &cfg.Redis.URL)
	e.str("REDIS_CHANNEL_PREFIX", &cfg.Redis.ChannelPrefix)

	e.str("MEDIA_BASE_URL", &cfg.Media.BaseURL)

	e.integer("CHAT_MAX_CONTENT_LENGTH", &cfg.Chat.MaxContentLength)
	e.integer("CHAT_MESSAGES_PER_MINUTE", &cfg.Chat.MessagesPerMinute)
	e.integer("CHAT_HISTORY_PAGE_SIZE", &cfg.Chat.HistoryPageSize)
	e.integer("CHAT_HISTORY_MAX_PAGE_SIZE", &cfg.Chat.HistoryMaxPageSize)

	e.str("LOG_LEVEL", &cfg.Log.Level)
	e.str("LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(e.errs...)
}

// ConfigFile is the JSON layout of a config file.
// FUNCTIONAL DISCOVERY: durations are strings ("30s"); zero values and
// empty strings leave the current setting untouched.
type ConfigFile struct {
	Environment string               `json:"environment"`
	Database    *DatabaseConfigFile  `json:"database"`
	HTTP        *HTTPConfigFile      `json:"http"`
	WebSocket   *WebSocketConfigFile `json:"websocket"`
	Auth        *AuthConfigFile      `json:"auth"`
	Redis       *RedisConfig         `json:"redis"`
	Media       *MediaConfig         `json:"media"`
	Chat        *ChatConfig          `json:"chat"`
	Log         *LogConfig           `json:"log"`
}

type DatabaseConfigFile struct {
	Driver         string `json:"driver"`
	Path           string `json:"path"`
	DSN            string `json:"dsn"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     string   `json:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval        string `json:"ping_interval"`
	ReadTimeout         string `json:"read_timeout"`
	WriteTimeout        string `json:"write_timeout"`
	BufferSize          int    `json:"buffer_size"`
	MaxMessageBytes     int64  `json:"max_message_bytes"`
	MaxConsecutiveDrops int    `json:"max_consecutive_drops"`
}

type AuthConfigFile struct {
	JWTSecret string `json:"jwt_secret"`
	Issuer    string `json:"issuer"`
	TokenTTL  string `json:"token_ttl"`
}

// LoadFromFile reads a JSON config file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

type fileApplier struct {
	errs []error
}

func (f *fileApplier) str(src string, dst *string) {
	if src != "" {
		*dst = src
	}
}

func (f *fileApplier) integer(src int, dst *int) {
	if src > 0 {
		*dst = src
	}
}

func (f *fileApplier) duration(name, src string, dst *time.Duration) {
	if src == "" {
		return
	}
	d, err := time.ParseDuration(src)
	if err != nil {
		f.errs = append(f.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = d
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	f := &fileApplier{}
	f.str(file.Environment, &cfg.Environment)

	if db := file.Database; db != nil {
		f.str(db.Driver, &cfg.Database.Driver)
		f.str(db.Path, &cfg.Database.Path)
		f.str(db.DSN, &cfg.Database.DSN)
		f.duration("database.timeout", db.Timeout, &cfg.Database.Timeout)
		f.integer(db.MaxConnections, &cfg.Database.MaxConnections)
	}
	if h := file.HTTP; h != nil {
		f.str(h.Host, &cfg.HTTP.Host)
		f.integer(h.Port, &cfg.HTTP.Port)
		f.duration("http.read_timeout", h.ReadTimeout, &cfg.HTTP.ReadTimeout)
		f.duration("http.write_timeout", h.WriteTimeout, &cfg.HTTP.WriteTimeout)
		f.duration("http.shutdown_timeout", h.ShutdownTimeout, &cfg.HTTP.ShutdownTimeout)
		if len(h.AllowedOrigins) > 0 {
			cfg.HTTP.AllowedOrigins = h.AllowedOrigins
		}
	}
	if ws := file.WebSocket; ws != nil {
		f.duration("websocket.ping_interval", ws.PingInterval, &cfg.WebSocket.PingInterval)
		f.duration("websocket.read_timeout", ws.ReadTimeout, &cfg.WebSocket.ReadTimeout)
		f.duration("websocket.write_timeout", ws.WriteTimeout, &cfg.WebSocket.WriteTimeout)
		f.integer(ws.BufferSize, &cfg.WebSocket.BufferSize)
		if ws.MaxMessageBytes > 0 {
			cfg.WebSocket.MaxMessageBytes = ws.MaxMessageBytes
		}
		f.integer(ws.MaxConsecutiveDrops, &cfg.WebSocket.MaxConsecutiveDrops)
	}
	if a := file.Auth; a != nil {
		f.str(a.JWTSecret, &cfg.Auth.JWTSecret)
		f.str(a.Issuer, &cfg.Auth.Issuer)
		f.duration("auth.token_ttl", a.TokenTTL, &cfg.Auth.TokenTTL)
	}
	if r := file.Redis; r != nil {
		f.str(r.URL, &cfg.Redis.URL)
		f.str(r.ChannelPrefix, &cfg.Redis.ChannelPrefix)
	}
	if m := file.Media; m != nil {
		f.str(m.BaseURL, &cfg.Media.BaseURL)
	}
	if c := file.Chat; c != nil {
		f.integer(c.MaxContentLength, &cfg.Chat.MaxContentLength)
		f.integer(c.MessagesPerMinute, &cfg.Chat.MessagesPerMinute)
		f.integer(c.HistoryPageSize, &cfg.Chat.HistoryPageSize)
		f.integer(c.HistoryMaxPageSize, &cfg.Chat.HistoryMaxPageSize)
	}
	if l := file.Log; l != nil {
		f.str(l.Level, &cfg.Log.Level)
		f.str(l.Format, &cfg.Log.Format)
	}

	if len(f.errs) > 0 {
		return fmt.Errorf("config file %s: %w", path, errors.Join(f.errs...))
	}
	return nil
}

// Load resolves the configuration with precedence file > environment >
// defaults. A .env file in the working directory is loaded first when
// present; variables already set in the process win over it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
