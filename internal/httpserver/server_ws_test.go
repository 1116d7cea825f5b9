package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchdeck/peerlink/internal/config"
	"github.com/sketchdeck/peerlink/internal/metrics"
	"github.com/sketchdeck/peerlink/internal/relay"
	"github.com/sketchdeck/peerlink/internal/signal"
)

// The signaling route is served behind the full middleware chain in
// production. These tests go through that chain — not a bare mux — so the
// upgrade path the binary actually ships is what gets exercised.

func newWrappedRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := config.Config{
		AuthMode:                   config.AuthModeNone,
		PeerIdleTimeout:            30 * time.Second,
		WSPingInterval:             5 * time.Second,
		MaxSignalMessageBytes:      64 * 1024,
		MaxSignalMessagesPerSecond: 1000,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rs, err := relay.NewServer(cfg, logger, metrics.New(), nil)
	if err != nil {
		t.Fatalf("relay.NewServer: %v", err)
	}

	srv := New(cfg, logger, metrics.New(), BuildInfo{})
	rs.RegisterRoutes(srv.Mux())

	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestSignalingUpgradeThroughMiddleware(t *testing.T) {
	ts := newWrappedRelayServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + signal.DefaultMountPath
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through middleware chain: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = ws.Close() })

	if err := ws.WriteJSON(signal.Message{Type: signal.TypeRegister}); err != nil {
		t.Fatalf("send register: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply signal.Message
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("read registered reply: %v", err)
	}
	if reply.Type != signal.TypeRegistered {
		t.Fatalf("reply type=%q, want registered", reply.Type)
	}
	var p signal.RegisteredPayload
	if err := json.Unmarshal(reply.Payload, &p); err != nil || p.ID == "" {
		t.Fatalf("bad registered payload %q: %v", reply.Payload, err)
	}
}

func TestStatusWriterHijack(t *testing.T) {
	// httptest.ResponseRecorder does not hijack; verify the wrapper reports
	// that cleanly instead of panicking.
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := sw.Hijack(); err == nil {
		t.Fatal("expected error hijacking a non-hijackable writer")
	}
}
