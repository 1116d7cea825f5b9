// Package config loads the relay's runtime configuration from environment
// variables and command-line flags. Flags win over environment variables;
// both win over defaults.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr = "PEERLINK_LISTEN_ADDR"
	envVarMode       = "PEERLINK_MODE"
	envVarLogFormat  = "PEERLINK_LOG_FORMAT"
	envVarLogLevel   = "PEERLINK_LOG_LEVEL"
	envVarStaticDir  = "PEERLINK_STATIC_DIR"

	// Relay hardening knobs.
	envVarAuthMode                   = "PEERLINK_AUTH_MODE"
	envVarAPIKey                     = "PEERLINK_API_KEY"
	envVarJWTSecret                  = "PEERLINK_JWT_SECRET"
	envVarDiscovery                  = "PEERLINK_DISCOVERY"
	envVarAllowedOrigins             = "PEERLINK_ALLOWED_ORIGINS"
	envVarPeerIdleTimeout            = "PEER_IDLE_TIMEOUT"
	envVarWSPingInterval             = "WS_PING_INTERVAL"
	envVarMaxSignalMessageBytes      = "MAX_SIGNAL_MESSAGE_BYTES"
	envVarMaxSignalMessagesPerSecond = "MAX_SIGNAL_MESSAGES_PER_SECOND"
	envVarShutdownTimeout            = "PEERLINK_SHUTDOWN_TIMEOUT"

	// Client-side handshake ceiling. Shipped in the same config package so the
	// server binary's embedded test client and the editor's Wasm build read one
	// source of truth.
	envVarHandshakeTimeout = "HANDSHAKE_TIMEOUT"

	// ICE bootstrap for clients (served at /ice).
	envVarSTUNURLs   = "PEERLINK_STUN_URLS"
	envVarTURNURL    = "PEERLINK_TURN_URL"
	envVarTURNSecret = "PEERLINK_TURN_SECRET"
	envVarTURNTTL    = "PEERLINK_TURN_TTL"

	// Optional Redis presence mirror.
	envVarRedisAddr     = "PEERLINK_REDIS_ADDR"
	envVarRedisPassword = "PEERLINK_REDIS_PASSWORD"
	envVarRedisDB       = "PEERLINK_REDIS_DB"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultHandshakeTimeout bounds how long a connect attempt may stay in
	// flight before the manager abandons it. A dropped signaling connection
	// otherwise leaves the caller waiting forever with no terminal signal.
	DefaultHandshakeTimeout = 15 * time.Second

	// DefaultPeerIdleTimeout evicts relay registrations whose socket has gone
	// quiet. A stalled client must not hold its join code hostage.
	DefaultPeerIdleTimeout = 60 * time.Second
	DefaultWSPingInterval  = 20 * time.Second

	DefaultMaxSignalMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalMessagesPerSecond = 50

	DefaultSTUNURLs = "stun:stun.l.google.com:19302"
	DefaultTURNTTL  = time.Hour

	DefaultMode Mode = ModeDev

	DefaultAuthMode AuthMode = AuthModeNone
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// AuthMode gates admission to the signaling endpoint. This is relay access
// hardening, not user authentication; identity records live in the external
// identity service.
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeJWT    AuthMode = "jwt"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether the optional presence mirror is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type Config struct {
	ListenAddr string
	Mode       Mode
	LogFormat  LogFormat
	LogLevel   slog.Level

	// StaticDir is the canvas UI bundle served alongside the relay. Empty
	// disables static serving (relay-only deployment).
	StaticDir string

	AuthMode  AuthMode
	APIKey    string
	JWTSecret string

	// Discovery enables the informational peer listing. Identifier strings
	// only; never anything else.
	Discovery bool

	// AllowedOrigins lists browser origins admitted to the signaling
	// endpoint. Empty means same-host only; "*" admits any origin.
	AllowedOrigins []string

	PeerIdleTimeout time.Duration
	WSPingInterval  time.Duration

	MaxSignalMessageBytes      int64
	MaxSignalMessagesPerSecond int

	HandshakeTimeout time.Duration
	ShutdownTimeout  time.Duration

	// ICE bootstrap served to clients at /ice. TURN is optional and needs a
	// coturn-compatible shared secret; STUN entries are handed out as-is.
	STUNURLs   []string
	TURNURL    string
	TURNSecret string
	TURNTTL    time.Duration

	Redis RedisConfig
}

// Validate checks cross-field constraints that cannot be expressed per-key.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthModeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("%s=api_key requires %s", envVarAuthMode, envVarAPIKey)
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("%s=jwt requires %s", envVarAuthMode, envVarJWTSecret)
		}
	}
	if c.WSPingInterval >= c.PeerIdleTimeout {
		return fmt.Errorf("%s (%v) must be shorter than %s (%v)",
			envVarWSPingInterval, c.WSPingInterval, envVarPeerIdleTimeout, c.PeerIdleTimeout)
	}
	if c.MaxSignalMessageBytes <= 0 {
		return fmt.Errorf("%s must be positive", envVarMaxSignalMessageBytes)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%s must be positive", envVarHandshakeTimeout)
	}
	if c.TURNURL != "" && c.TURNSecret == "" {
		return fmt.Errorf("%s requires %s", envVarTURNURL, envVarTURNSecret)
	}
	return nil
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	staticDir := envOrDefault(lookup, envVarStaticDir, "")
	authModeDefault := envOrDefault(lookup, envVarAuthMode, string(DefaultAuthMode))
	apiKey := envOrDefault(lookup, envVarAPIKey, "")
	jwtSecret := envOrDefault(lookup, envVarJWTSecret, "")

	discovery, err := envBoolOrDefault(lookup, envVarDiscovery, false)
	if err != nil {
		return Config{}, err
	}

	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	peerIdleTimeout, err := envDurationOrDefault(lookup, envVarPeerIdleTimeout, DefaultPeerIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	handshakeTimeout, err := envDurationOrDefault(lookup, envVarHandshakeTimeout, DefaultHandshakeTimeout)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	maxMsgBytes := DefaultMaxSignalMessageBytes
	if raw, ok := lookup(envVarMaxSignalMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalMessageBytes, raw, err)
		}
		maxMsgBytes = n
	}
	maxMsgsPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalMessagesPerSecond, DefaultMaxSignalMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	stunURLsStr := envOrDefault(lookup, envVarSTUNURLs, DefaultSTUNURLs)
	turnURL := envOrDefault(lookup, envVarTURNURL, "")
	turnSecret := envOrDefault(lookup, envVarTURNSecret, "")
	turnTTL, err := envDurationOrDefault(lookup, envVarTURNTTL, DefaultTURNTTL)
	if err != nil {
		return Config{}, err
	}

	redisAddr := envOrDefault(lookup, envVarRedisAddr, "")
	redisPassword := envOrDefault(lookup, envVarRedisPassword, "")
	redisDB, err := envIntOrDefault(lookup, envVarRedisDB, 0)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("peerlink-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
		authModeStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&staticDir, "static-dir", staticDir, "Directory with the canvas UI bundle (env "+envVarStaticDir+"; empty disables)")
	fs.StringVar(&authModeStr, "auth-mode", authModeDefault, "Signaling auth mode: none, api_key, or jwt (env "+envVarAuthMode+")")
	fs.BoolVar(&discovery, "discovery", discovery, "Enable the informational peer listing (env "+envVarDiscovery+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins admitted to signaling; empty means same-host, * means any (env "+envVarAllowedOrigins+")")
	fs.DurationVar(&peerIdleTimeout, "peer-idle-timeout", peerIdleTimeout, "Evict registrations with no traffic for this long (env "+envVarPeerIdleTimeout+")")
	fs.DurationVar(&handshakeTimeout, "handshake-timeout", handshakeTimeout, "Client handshake ceiling (env "+envVarHandshakeTimeout+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", rest)
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authMode, err := parseAuthMode(authModeStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: listenAddr,
		Mode:       mode,
		LogFormat:  logFormat,
		LogLevel:   logLevel,
		StaticDir:  staticDir,

		AuthMode:  authMode,
		APIKey:    apiKey,
		JWTSecret: jwtSecret,
		Discovery: discovery,

		AllowedOrigins: splitCommaList(allowedOriginsStr),

		PeerIdleTimeout: peerIdleTimeout,
		WSPingInterval:  wsPingInterval,

		MaxSignalMessageBytes:      maxMsgBytes,
		MaxSignalMessagesPerSecond: maxMsgsPerSecond,

		HandshakeTimeout: handshakeTimeout,
		ShutdownTimeout:  shutdownTimeout,

		STUNURLs:   splitCommaList(stunURLsStr),
		TURNURL:    turnURL,
		TURNSecret: turnSecret,
		TURNTTL:    turnTTL,

		Redis: RedisConfig{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envBoolOrDefault(lookup func(string) (string, bool), key string, fallback bool) (bool, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthMode(raw string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthModeNone):
		return AuthModeNone, nil
	case string(AuthModeAPIKey):
		return AuthModeAPIKey, nil
	case string(AuthModeJWT):
		return AuthModeJWT, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected %s, %s, or %s)", envVarAuthMode, raw, AuthModeNone, AuthModeAPIKey, AuthModeJWT)
	}
}
