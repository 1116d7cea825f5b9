package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sketchdeck/peerlink/internal/config"
	"github.com/sketchdeck/peerlink/internal/metrics"
)

func newTestServer(t *testing.T, cfg config.Config) (*Server, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	return New(cfg, logger, m, BuildInfo{Commit: "abc123", BuildTime: "2026-01-01T00:00:00Z"}), m
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body=%v", body)
	}
}

func TestReadyzBeforeServe(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 before Serve", rec.Code)
	}
}

func TestReadyzMissingStaticBundle(t *testing.T) {
	s, _ := newTestServer(t, config.Config{StaticDir: filepath.Join(t.TempDir(), "missing")})
	s.ready.Store(true)

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 for missing bundle", rec.Code)
	}
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var body BuildInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body.Commit != "abc123" {
		t.Fatalf("commit=%q", body.Commit)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, m := newTestServer(t, config.Config{})
	m.Add(metrics.MessagesRelayed, 3)

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `peerlink_relay_events_total{event="messages_relayed"} 3`) {
		t.Fatalf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestStaticServingDevMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<canvas>"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, _ := newTestServer(t, config.Config{Mode: config.ModeDev, StaticDir: dir})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q, want no-store in dev", got)
	}
	if !strings.Contains(rec.Body.String(), "<canvas>") {
		t.Fatalf("body=%q", rec.Body.String())
	}
}

func TestStaticServingDisabled(t *testing.T) {
	s, _ := newTestServer(t, config.Config{})

	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404 without a static dir", rec.Code)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), recoverMiddleware(logger), requestIDMiddleware(), requestLoggerMiddleware(logger))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Fatalf("X-Request-ID=%q, want fixed-id", got)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("no generated request id")
	}
}

func TestRecoverMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), recoverMiddleware(logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}
