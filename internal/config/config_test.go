package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.AuthMode != AuthModeNone {
		t.Fatalf("authMode=%q, want none", cfg.AuthMode)
	}
	if cfg.Discovery {
		t.Fatalf("discovery=true, want false")
	}
	if cfg.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Fatalf("handshakeTimeout=%v, want %v", cfg.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.PeerIdleTimeout != DefaultPeerIdleTimeout {
		t.Fatalf("peerIdleTimeout=%v, want %v", cfg.PeerIdleTimeout, DefaultPeerIdleTimeout)
	}
	if cfg.MaxSignalMessageBytes != DefaultMaxSignalMessageBytes {
		t.Fatalf("maxSignalMessageBytes=%d, want %d", cfg.MaxSignalMessageBytes, DefaultMaxSignalMessageBytes)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis enabled with no addr configured")
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr: "0.0.0.0:9999",
	}), []string{"--listen-addr", "127.0.0.1:7777"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
}

func TestHandshakeTimeout_EnvOverride(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarHandshakeTimeout: "3s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HandshakeTimeout != 3*time.Second {
		t.Fatalf("handshakeTimeout=%v, want 3s", cfg.HandshakeTimeout)
	}
}

func TestHandshakeTimeout_Invalid(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarHandshakeTimeout: "soon",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestAuthModeAPIKey_RequiresKey(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarAuthMode: "api_key",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for api_key without key")
	}
	if !strings.Contains(err.Error(), envVarAPIKey) {
		t.Fatalf("err=%v, expected mention of %s", err, envVarAPIKey)
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarAuthMode: "api_key",
		envVarAPIKey:   "s3cret",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthMode != AuthModeAPIKey || cfg.APIKey != "s3cret" {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
}

func TestAuthModeJWT_RequiresSecret(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarAuthMode: "jwt",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for jwt without secret")
	}
}

func TestPingIntervalMustBeatIdleTimeout(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarPeerIdleTimeout: "10s",
		envVarWSPingInterval:  "30s",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for ping interval >= idle timeout")
	}
}

func TestRedisConfig(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarRedisAddr: "localhost:6379",
		envVarRedisDB:   "2",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("redis not enabled")
	}
	if cfg.Redis.DB != 2 {
		t.Fatalf("redis db=%d, want 2", cfg.Redis.DB)
	}
}

func TestAllowedOriginsParsing(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarAllowedOrigins: "https://canvas.example.com, https://staging.example.com ,",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("allowedOrigins=%v, want 2 entries", cfg.AllowedOrigins)
	}
	if cfg.AllowedOrigins[0] != "https://canvas.example.com" || cfg.AllowedOrigins[1] != "https://staging.example.com" {
		t.Fatalf("allowedOrigins=%v", cfg.AllowedOrigins)
	}
}

func TestDefaultSTUNURLs(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.STUNURLs) != 1 || cfg.STUNURLs[0] != DefaultSTUNURLs {
		t.Fatalf("stunURLs=%v, want default", cfg.STUNURLs)
	}
}

func TestTURNRequiresSecret(t *testing.T) {
	_, err := load(lookupMap(map[string]string{
		envVarTURNURL: "turn:turn.example.com:3478",
	}), nil)
	if err == nil {
		t.Fatalf("expected error for turn url without secret")
	}

	cfg, err := load(lookupMap(map[string]string{
		envVarTURNURL:    "turn:turn.example.com:3478",
		envVarTURNSecret: "shared",
		envVarTURNTTL:    "30m",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TURNTTL != 30*time.Minute {
		t.Fatalf("turnTTL=%v, want 30m", cfg.TURNTTL)
	}
}

func TestUnexpectedArgsRejected(t *testing.T) {
	if _, err := load(noEnv, []string{"leftover"}); err == nil {
		t.Fatalf("expected error for positional args")
	}
}

func TestInvalidMode(t *testing.T) {
	if _, err := load(noEnv, []string{"--mode", "staging"}); err == nil {
		t.Fatalf("expected error for invalid mode")
	}
}
