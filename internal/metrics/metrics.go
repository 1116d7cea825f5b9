package metrics

import "sync"

// Counter names used across the relay. Observability here is advisory only;
// nothing in the signaling contract depends on these.
const (
	PeersRegistered    = "peers_registered"
	PeersEvicted       = "peers_evicted"
	PeersUnregistered  = "peers_unregistered"
	RegisterConflicts  = "register_conflicts"
	MessagesRelayed    = "messages_relayed"
	MessagesRejected   = "messages_rejected"
	PeerUnreachable    = "peer_unreachable"
	DiscoveryRequests  = "discovery_requests"
	RateLimited        = "rate_limited"
	AuthRejected       = "auth_rejected"
	// Handshake progress as visible from the relay: an offer passing through
	// starts one, an answer passing through means both sides engaged. The
	// final outcome happens peer-to-peer and is invisible here.
	HandshakesStarted  = "handshakes_started"
	HandshakesAnswered = "handshakes_answered"
)

// Metrics is a minimal, concurrency-safe counter registry. The relay exposes
// it in Prometheus' text format via PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
