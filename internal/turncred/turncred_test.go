package turncred

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMintDeterministicWithFixedTime(t *testing.T) {
	m, err := NewMinter(MinterConfig{
		SharedSecret: "shared-secret",
		Realm:        "peerlink",
		TTL:          time.Hour,
		Now:          func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}

	cred, err := m.Mint("conn-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	wantUsername := "1700003600:peerlink:conn-1"
	if cred.Username != wantUsername {
		t.Fatalf("username=%q, want %q", cred.Username, wantUsername)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	mac.Write([]byte(wantUsername))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); cred.Credential != want {
		t.Fatalf("credential=%q, want %q", cred.Credential, want)
	}
	if got := cred.ExpiresAt.Unix(); got != 1_700_003_600 {
		t.Fatalf("expiry=%d", got)
	}
}

func TestMintRejectsColonConnID(t *testing.T) {
	m, err := NewMinter(MinterConfig{SharedSecret: "s", Realm: "peerlink", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	if _, err := m.Mint("a:b"); err == nil {
		t.Fatal("expected error for conn id containing ':'")
	}
	if _, err := m.Mint(""); err == nil {
		t.Fatal("expected error for empty conn id")
	}
}

func TestNewMinterValidation(t *testing.T) {
	if _, err := NewMinter(MinterConfig{Realm: "r", TTL: time.Hour}); err == nil {
		t.Fatal("expected error for missing secret")
	}
	if _, err := NewMinter(MinterConfig{SharedSecret: "s", Realm: "a:b", TTL: time.Hour}); err == nil {
		t.Fatal("expected error for realm containing ':'")
	}
	if _, err := NewMinter(MinterConfig{SharedSecret: "s", Realm: "r"}); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestHandlerStunOnly(t *testing.T) {
	h := Handler([]string{"stun:stun.example.com:3478"}, "", nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))

	var body struct {
		ICEServers []ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.ICEServers) != 1 || body.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("servers=%+v", body.ICEServers)
	}
	if body.ICEServers[0].Username != "" {
		t.Fatal("stun entry should carry no credential")
	}
}

func TestHandlerMintsTurnCredential(t *testing.T) {
	m, err := NewMinter(MinterConfig{SharedSecret: "s", Realm: "peerlink", TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	h := Handler(nil, "turn:turn.example.com:3478", m)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ice", nil))

	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control=%q", got)
	}
	var body struct {
		ICEServers []ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(body.ICEServers) != 1 {
		t.Fatalf("servers=%+v", body.ICEServers)
	}
	srv := body.ICEServers[0]
	if srv.Username == "" || srv.Credential == "" {
		t.Fatalf("turn entry missing credential: %+v", srv)
	}

	// Fresh credential per request.
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/ice", nil))
	var body2 struct {
		ICEServers []ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &body2); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body2.ICEServers[0].Username == srv.Username {
		t.Fatal("credential reused across requests")
	}
}
