package records

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// User is the identity service's view of the current session.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Identity answers who the current user is. Session state lives entirely in
// the service; this client only carries the bearer credential along.
type Identity struct {
	base  *url.URL
	token string
	http  *http.Client
}

func NewIdentity(cfg ClientConfig) (*Identity, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("records: base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("records: invalid base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Identity{base: base, token: cfg.Token, http: hc}, nil
}

func (i *Identity) CurrentUser(ctx context.Context) (User, error) {
	c := Client{base: i.base, token: i.token, http: i.http}
	var u User
	if err := c.do(ctx, http.MethodGet, "/me", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// IsLoggedIn reports whether the current credential maps to a user. Errors
// other than an explicit rejection count as not logged in.
func (i *Identity) IsLoggedIn(ctx context.Context) bool {
	_, err := i.CurrentUser(ctx)
	return err == nil
}
