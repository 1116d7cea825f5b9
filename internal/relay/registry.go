// Package relay implements the signaling broker: an identifier registry plus
// a WebSocket endpoint that forwards handshake messages between exactly the
// two peers negotiating a direct channel. The relay holds no application
// state and never interprets the negotiation blobs it forwards.
package relay

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sketchdeck/peerlink/internal/ratelimit"
	"github.com/sketchdeck/peerlink/internal/signal"
)

var (
	// ErrIdentifierConflict is returned when a requested identifier is already
	// bound to a live connection. The first successful claim wins.
	ErrIdentifierConflict = errors.New("relay: identifier already registered")

	ErrInvalidIdentifier = errors.New("relay: invalid identifier")
)

// Conn is the live signaling connection bound to a registered identifier.
// Deliver must not block; it reports false when the peer's send queue is
// full or the connection is gone.
type Conn interface {
	Deliver(msg signal.Message) bool
	// Evict asks the connection to close. Used by the idle sweeper.
	Evict(reason string)
}

type peerEntry struct {
	conn     Conn
	lastSeen time.Time
}

// Registry owns the identifier table. All access goes through its mutex;
// registering an identifier that is already claimed resolves deterministically
// in favor of the existing claim.
type Registry struct {
	clock ratelimit.Clock

	mu    sync.Mutex
	peers map[string]*peerEntry
}

func NewRegistry(clock ratelimit.Clock) *Registry {
	if clock == nil {
		clock = ratelimit.RealClock{}
	}
	return &Registry{
		clock: clock,
		peers: make(map[string]*peerEntry),
	}
}

const (
	// joinCodeAlphabet avoids characters that read ambiguously when a code is
	// shared out loud or scribbled on a whiteboard (no 0/o, 1/l/i).
	joinCodeAlphabet = "23456789abcdefghjkmnpqrstuvwxyz"
	joinCodeLength   = 6

	maxIdentifierLength = 64
)

// Register binds an identifier to conn. With an empty requestedID a fresh
// join code is generated. Registration is atomic: exactly one of two
// concurrent claims on the same identifier succeeds.
func (r *Registry) Register(requestedID string, conn Conn) (string, error) {
	if len(requestedID) > maxIdentifierLength {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidIdentifier, maxIdentifierLength)
	}

	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	id := requestedID
	if id == "" {
		var err error
		id, err = r.freshIDLocked()
		if err != nil {
			return "", err
		}
	} else if _, taken := r.peers[id]; taken {
		return "", ErrIdentifierConflict
	}

	r.peers[id] = &peerEntry{conn: conn, lastSeen: now}
	return id, nil
}

// freshIDLocked generates an unclaimed join code. Collisions are retried; at
// six characters over a 31-symbol alphabet the space is ~890M codes, so a
// handful of attempts always suffices at realistic registry sizes.
func (r *Registry) freshIDLocked() (string, error) {
	for attempt := 0; attempt < 16; attempt++ {
		code, err := randomJoinCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.peers[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("relay: could not generate a free identifier")
}

func randomJoinCode() (string, error) {
	var buf [joinCodeLength]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("relay: generate join code: %w", err)
	}
	for i := range buf {
		buf[i] = joinCodeAlphabet[int(buf[i])%len(joinCodeAlphabet)]
	}
	return string(buf[:]), nil
}

// Lookup returns the live connection for id.
func (r *Registry) Lookup(id string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Touch refreshes the liveness timestamp for id.
func (r *Registry) Touch(id string) {
	now := r.clock.Now()
	r.mu.Lock()
	if e, ok := r.peers[id]; ok {
		e.lastSeen = now
	}
	r.mu.Unlock()
}

// Unregister removes the binding for id, but only if it still belongs to
// conn. A stale unregister from a superseded connection must not evict the
// current claim.
func (r *Registry) Unregister(id string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok || e.conn != conn {
		return false
	}
	delete(r.peers, id)
	return true
}

// Snapshot lists currently registered identifiers. Identifier strings only;
// this is the entire discovery surface.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// EvictIdle removes peers whose lastSeen is older than maxIdle and asks
// their connections to close. It returns the evicted identifiers.
func (r *Registry) EvictIdle(maxIdle time.Duration) []string {
	cutoff := r.clock.Now().Add(-maxIdle)

	r.mu.Lock()
	var evicted []string
	var conns []Conn
	for id, e := range r.peers {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, id)
			conns = append(conns, e.conn)
			delete(r.peers, id)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Evict("idle timeout")
	}
	return evicted
}
