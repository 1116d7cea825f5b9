// Package auth gates admission to the signaling endpoint.
//
// This is connection-level hardening for the relay, not user authentication:
// user records and login state belong to the product's identity service. In
// jwt mode the token's subject is the identity service's user id, carried
// along only for operational logging.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/sketchdeck/peerlink/internal/config"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Verifier validates a signaling credential. Verify returns the subject the
// credential identifies ("" for modes with no identity).
type Verifier interface {
	Verify(credential string) (subject string, err error)
}

func NewVerifier(cfg config.Config) (Verifier, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return AllowAll{}, nil
	case config.AuthModeAPIKey:
		return APIKeyVerifier{Expected: cfg.APIKey}, nil
	case config.AuthModeJWT:
		return NewJWTVerifier(cfg.JWTSecret), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// CredentialFromQuery extracts the credential a browser client passes on the
// WebSocket dial URL.
func CredentialFromQuery(mode config.AuthMode, q url.Values) (string, error) {
	switch mode {
	case config.AuthModeNone:
		return "", nil
	case config.AuthModeAPIKey:
		if apiKey := q.Get("apiKey"); apiKey != "" {
			return apiKey, nil
		}
		return "", ErrMissingCredentials
	case config.AuthModeJWT:
		if token := q.Get("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingCredentials
	default:
		return "", fmt.Errorf("unsupported auth mode %q", mode)
	}
}

// AllowAll is the dev-mode verifier.
type AllowAll struct{}

func (AllowAll) Verify(string) (string, error) { return "", nil }

type APIKeyVerifier struct {
	Expected string
}

func (v APIKeyVerifier) Verify(apiKey string) (string, error) {
	if apiKey == "" || v.Expected == "" {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.Expected)) != 1 {
		return "", ErrInvalidCredentials
	}
	return "", nil
}
