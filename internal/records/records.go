// Package records holds thin clients for the product services the canvas
// editor talks to alongside the relay: the record-storage service that
// persists canvas documents, and the identity service that answers who the
// current user is. Both are consumed by the editor shell; nothing in the
// signaling path depends on them.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrNotFound     = errors.New("records: not found")
	ErrUnauthorized = errors.New("records: unauthorized")
)

// Record is one stored document. Data is opaque to this package.
type Record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

type ClientConfig struct {
	BaseURL string

	// Token, when set, is sent as a bearer credential on every request.
	Token string

	HTTPClient *http.Client
}

type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
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
	return &Client{base: base, token: cfg.Token, http: hc}, nil
}

// Create stores data as a new record in collection and returns the stored
// record with its server-assigned identifier.
func (c *Client) Create(ctx context.Context, collection string, data any) (Record, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("records: encode record: %w", err)
	}
	var rec Record
	err = c.do(ctx, http.MethodPost, c.collectionPath(collection), body, &rec)
	return rec, err
}

// Read fetches one record by identifier.
func (c *Client) Read(ctx context.Context, collection, id string) (Record, error) {
	if id == "" {
		return Record{}, ErrNotFound
	}
	var rec Record
	err := c.do(ctx, http.MethodGet, c.collectionPath(collection)+"/"+url.PathEscape(id), nil, &rec)
	return rec, err
}

// List fetches every record in collection.
func (c *Client) List(ctx context.Context, collection string) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, c.collectionPath(collection), nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) collectionPath(collection string) string {
	return "/collections/" + url.PathEscape(collection) + "/records"
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	u := c.base.JoinPath(path)

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		return fmt.Errorf("records: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("records: decode response: %w", err)
	}
	return nil
}
