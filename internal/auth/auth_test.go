package auth

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sketchdeck/peerlink/internal/config"
)

func TestAPIKeyVerifier(t *testing.T) {
	v := APIKeyVerifier{Expected: "open-sesame"}

	if _, err := v.Verify("open-sesame"); err != nil {
		t.Fatalf("verify valid key: %v", err)
	}
	if _, err := v.Verify("wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty key: err=%v, want ErrInvalidCredentials", err)
	}
}

func TestAPIKeyVerifier_EmptyExpectedRejectsAll(t *testing.T) {
	v := APIKeyVerifier{}
	if _, err := v.Verify("anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func signToken(t *testing.T, secret string, sub string, exp time.Time, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	v := NewJWTVerifier("hush")
	token := signToken(t, "hush", "user-42", time.Now().Add(time.Hour), jwt.SigningMethodHS256)

	sub, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-42" {
		t.Fatalf("subject=%q, want user-42", sub)
	}
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := NewJWTVerifier("hush")
	token := signToken(t, "other", "user-42", time.Now().Add(time.Hour), jwt.SigningMethodHS256)

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := NewJWTVerifier("hush")
	token := signToken(t, "hush", "user-42", time.Now().Add(-time.Minute), jwt.SigningMethodHS256)

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func TestJWTVerifier_MissingExpiry(t *testing.T) {
	v := NewJWTVerifier("hush")
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-42"})
	s, err := tok.SignedString([]byte("hush"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(s); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func TestJWTVerifier_RejectsNonHMAC(t *testing.T) {
	v := NewJWTVerifier("hush")
	// alg=none style downgrade must not pass.
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Verify(s); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want ErrInvalidCredentials", err)
	}
}

func TestNewVerifier_Modes(t *testing.T) {
	if _, err := NewVerifier(config.Config{AuthMode: config.AuthModeNone}); err != nil {
		t.Fatalf("none: %v", err)
	}
	if _, err := NewVerifier(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "k"}); err != nil {
		t.Fatalf("api_key: %v", err)
	}
	if _, err := NewVerifier(config.Config{AuthMode: config.AuthModeJWT, JWTSecret: "s"}); err != nil {
		t.Fatalf("jwt: %v", err)
	}
	if _, err := NewVerifier(config.Config{AuthMode: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestCredentialFromQuery(t *testing.T) {
	if cred, err := CredentialFromQuery(config.AuthModeNone, url.Values{}); err != nil || cred != "" {
		t.Fatalf("none mode: cred=%q err=%v", cred, err)
	}

	q := url.Values{"apiKey": {"k"}}
	cred, err := CredentialFromQuery(config.AuthModeAPIKey, q)
	if err != nil || cred != "k" {
		t.Fatalf("api_key: cred=%q err=%v", cred, err)
	}

	if _, err := CredentialFromQuery(config.AuthModeAPIKey, url.Values{}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err=%v, want ErrMissingCredentials", err)
	}

	q = url.Values{"token": {"tok"}}
	cred, err = CredentialFromQuery(config.AuthModeJWT, q)
	if err != nil || cred != "tok" {
		t.Fatalf("jwt: cred=%q err=%v", cred, err)
	}
}
