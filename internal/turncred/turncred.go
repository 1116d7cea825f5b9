// Package turncred mints short-lived TURN credentials for relayed ICE
// candidates, using the coturn-compatible REST scheme:
//
//	username   = <unix_expiry>:<realm>:<conn_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// Browsers on symmetric NATs cannot complete a direct handshake with STUN
// alone; handing each signaling client an ephemeral TURN credential keeps
// the shared secret off the wire.
package turncred

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Minter struct {
	secret []byte
	realm  string
	ttl    time.Duration
	now    func() time.Time
}

type MinterConfig struct {
	// SharedSecret must match the TURN server's static-auth-secret.
	SharedSecret string
	Realm        string
	TTL          time.Duration
	Now          func() time.Time
}

func NewMinter(cfg MinterConfig) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turncred: shared secret is required")
	}
	if cfg.Realm == "" || strings.Contains(cfg.Realm, ":") {
		return nil, errors.New("turncred: realm is required and must not contain ':'")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turncred: ttl must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Minter{
		secret: []byte(cfg.SharedSecret),
		realm:  cfg.Realm,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

type Credential struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

// Mint issues a credential bound to connID. The TURN server recomputes the
// HMAC from its own copy of the secret; nothing is stored on either side.
func (m *Minter) Mint(connID string) (Credential, error) {
	if connID == "" || strings.Contains(connID, ":") {
		return Credential{}, errors.New("turncred: conn id is required and must not contain ':'")
	}
	expiry := m.now().UTC().Add(m.ttl)
	username := strconv.FormatInt(expiry.Unix(), 10) + ":" + m.realm + ":" + connID

	mac := hmac.New(sha1.New, m.secret)
	_, _ = mac.Write([]byte(username))

	return Credential{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  expiry,
	}, nil
}

// ICEServer mirrors the RTCIceServer shape browsers expect.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Handler serves the ICE server list for clients about to open a peer
// connection. STUN entries go out as-is; the TURN entry gets a fresh
// per-request credential when a minter is configured.
func Handler(stunURLs []string, turnURL string, minter *Minter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var servers []ICEServer
		if len(stunURLs) > 0 {
			servers = append(servers, ICEServer{URLs: stunURLs})
		}
		if turnURL != "" && minter != nil {
			cred, err := minter.Mint(uuid.NewString())
			if err != nil {
				http.Error(w, "cannot mint turn credential", http.StatusInternalServerError)
				return
			}
			servers = append(servers, ICEServer{
				URLs:       []string{turnURL},
				Username:   cred.Username,
				Credential: cred.Credential,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]any{"iceServers": servers})
	})
}
