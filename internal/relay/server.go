package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sketchdeck/peerlink/internal/auth"
	"github.com/sketchdeck/peerlink/internal/config"
	"github.com/sketchdeck/peerlink/internal/metrics"
	"github.com/sketchdeck/peerlink/internal/ratelimit"
	"github.com/sketchdeck/peerlink/internal/signal"
)

const (
	wsWriteWait = 5 * time.Second
	// sendQueueSize bounds per-peer buffered outbound messages. A handshake is
	// a handful of envelopes; a full queue means the peer has stalled.
	sendQueueSize = 32
)

// Server is the WebSocket signaling endpoint. Each connection registers one
// identifier and may then exchange offer/answer/candidate envelopes with any
// other registered peer. Forwarding is verbatim.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	registry *Registry
	verifier auth.Verifier
	metrics  *metrics.Metrics
	presence Presence
	clock    ratelimit.Clock
	upgrader websocket.Upgrader
}

func NewServer(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, presence Presence) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if presence == nil {
		presence = NopPresence{}
	}
	return &Server{
		cfg:      cfg,
		log:      logger,
		registry: NewRegistry(nil),
		verifier: verifier,
		metrics:  m,
		presence: presence,
		clock:    ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, cfg.AllowedOrigins)
			},
		},
	}, nil
}

func (s *Server) Registry() *Registry { return s.registry }

// RegisterRoutes mounts the relay at its canonical sub-path. The client
// dialer uses the same constant, which is what keeps the two sides of the
// deployment from disagreeing about where signaling lives.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET "+signal.DefaultMountPath, s)
}

// RunSweeper evicts idle registrations until ctx is done. Eviction is a
// second line of defense behind per-connection read deadlines; it bounds
// how long a leaked registration can shadow a join code.
func (s *Server) RunSweeper(ctx context.Context) {
	interval := s.cfg.PeerIdleTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.registry.EvictIdle(s.cfg.PeerIdleTimeout)
			for _, id := range evicted {
				s.metrics.Inc(metrics.PeersEvicted)
				s.log.Info("evicted idle peer", "peer_id", id)
			}
		}
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred, err := auth.CredentialFromQuery(s.cfg.AuthMode, r.URL.Query())
	if err != nil {
		s.metrics.Inc(metrics.AuthRejected)
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	subject, err := s.verifier.Verify(cred)
	if err != nil {
		s.metrics.Inc(metrics.AuthRejected)
		http.Error(w, "invalid credentials", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.NewString()
	log := s.log.With("conn_id", connID, "remote_addr", r.RemoteAddr)
	if subject != "" {
		log = log.With("subject", subject)
	}
	log.Info("signaling connection opened")

	c := newClient(ws)
	go c.writePump(s.cfg.WSPingInterval)
	defer c.close()

	ws.SetReadLimit(s.cfg.MaxSignalMessageBytes)
	resetDeadline := func() { _ = ws.SetReadDeadline(s.clock.Now().Add(s.cfg.PeerIdleTimeout)) }
	resetDeadline()

	id, ok := s.awaitRegister(c, log)
	if !ok {
		return
	}

	log = log.With("peer_id", id)
	log.Info("peer registered")
	s.metrics.Inc(metrics.PeersRegistered)
	s.presence.Add(r.Context(), id)

	ws.SetPongHandler(func(string) error {
		resetDeadline()
		s.registry.Touch(id)
		return nil
	})

	defer func() {
		if s.registry.Unregister(id, c) {
			s.metrics.Inc(metrics.PeersUnregistered)
		}
		s.presence.Remove(context.Background(), id)
		log.Info("peer disconnected")
	}()

	limiter := ratelimit.NewTokenBucket(s.clock,
		int64(s.cfg.MaxSignalMessagesPerSecond), int64(s.cfg.MaxSignalMessagesPerSecond))

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()
		s.registry.Touch(id)

		if !limiter.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		msg, err := signal.Parse(raw)
		if err != nil {
			// Malformed traffic is a per-message problem, never fatal to the
			// relay or to this connection.
			s.metrics.Inc(metrics.MessagesRejected)
			c.Deliver(signal.ErrorMessage(id, signal.CodeInvalidMessage, err.Error()))
			continue
		}
		msg.From = id

		switch {
		case msg.IsForward():
			s.forward(c, id, msg, log)
		case msg.Type == signal.TypePeers:
			s.handleDiscovery(c, id)
		case msg.Type == signal.TypeRegister:
			s.metrics.Inc(metrics.MessagesRejected)
			c.Deliver(signal.ErrorMessage(id, signal.CodeInvalidMessage, "already registered"))
		default:
			s.metrics.Inc(metrics.MessagesRejected)
			c.Deliver(signal.ErrorMessage(id, signal.CodeInvalidMessage,
				fmt.Sprintf("unexpected message type %q", msg.Type)))
		}
	}
}

// awaitRegister handles the mandatory first message. It returns the bound
// identifier, or ok=false when the connection should be dropped.
func (s *Server) awaitRegister(c *client, log *slog.Logger) (string, bool) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return "", false
	}

	msg, err := signal.Parse(raw)
	if err != nil || msg.Type != signal.TypeRegister {
		c.Deliver(signal.ErrorMessage("", signal.CodeNotRegistered, "first message must be register"))
		c.drainAndClose(websocket.ClosePolicyViolation, "expected register message")
		return "", false
	}

	var req signal.RegisterPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.closeWith(websocket.CloseUnsupportedData, "invalid register payload")
			return "", false
		}
	}

	id, err := s.registry.Register(req.ID, c)
	if err != nil {
		code := signal.CodeInvalidMessage
		if errors.Is(err, ErrIdentifierConflict) {
			code = signal.CodeIdentifierConflict
			s.metrics.Inc(metrics.RegisterConflicts)
		}
		c.Deliver(signal.ErrorMessage("", code, err.Error()))
		c.drainAndClose(websocket.ClosePolicyViolation, "registration failed")
		log.Warn("registration rejected", "err", err)
		return "", false
	}

	c.Deliver(signal.Message{
		Type:    signal.TypeRegistered,
		To:      id,
		Payload: signal.MustPayload(signal.RegisteredPayload{ID: id}),
	})
	return id, true
}

func (s *Server) forward(sender *client, senderID string, msg signal.Message, log *slog.Logger) {
	if msg.To == "" {
		s.metrics.Inc(metrics.MessagesRejected)
		sender.Deliver(signal.ErrorMessage(senderID, signal.CodeInvalidMessage, "missing destination"))
		return
	}
	if msg.To == senderID {
		s.metrics.Inc(metrics.MessagesRejected)
		sender.Deliver(signal.ErrorMessage(senderID, signal.CodeInvalidMessage, "cannot signal yourself"))
		return
	}

	dest, ok := s.registry.Lookup(msg.To)
	if !ok {
		s.metrics.Inc(metrics.PeerUnreachable)
		sender.Deliver(signal.ErrorMessage(senderID, signal.CodePeerUnreachable,
			fmt.Sprintf("peer %q is not registered", msg.To)))
		return
	}

	if !dest.Deliver(msg) {
		// The destination's queue is full; it will be torn down by its own
		// deadline. Surface unreachable rather than blocking this sender.
		s.metrics.Inc(metrics.MessagesRejected)
		log.Warn("dropping message for stalled peer", "dest", msg.To, "type", msg.Type)
		sender.Deliver(signal.ErrorMessage(senderID, signal.CodePeerUnreachable,
			fmt.Sprintf("peer %q is not responding", msg.To)))
		return
	}
	s.metrics.Inc(metrics.MessagesRelayed)
	switch msg.Type {
	case signal.TypeOffer:
		s.metrics.Inc(metrics.HandshakesStarted)
	case signal.TypeAnswer:
		s.metrics.Inc(metrics.HandshakesAnswered)
	}
}

func (s *Server) handleDiscovery(c *client, id string) {
	if !s.cfg.Discovery {
		c.Deliver(signal.ErrorMessage(id, signal.CodeDiscoveryDisabled, "discovery is not enabled"))
		return
	}
	s.metrics.Inc(metrics.DiscoveryRequests)
	c.Deliver(signal.Message{
		Type:    signal.TypePeers,
		To:      id,
		Payload: signal.MustPayload(signal.PeersPayload{Peers: s.registry.Snapshot()}),
	})
}
