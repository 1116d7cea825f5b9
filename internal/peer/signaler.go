package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchdeck/peerlink/internal/signal"
)

// Signaler is the manager's view of the relay connection. The WebSocket
// implementation below is the production one; tests substitute an in-memory
// fake.
type Signaler interface {
	// Send writes one envelope to the relay.
	Send(msg signal.Message) error
	// Messages yields decoded inbound envelopes until the transport closes.
	Messages() <-chan signal.Message
	// Done is closed when the transport is gone (either side).
	Done() <-chan struct{}
	Close() error
}

const signalerWriteWait = 5 * time.Second

type wsSignaler struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex
	msgs    chan signal.Message

	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to a relay deployment. relayURL is the HTTP(S) base of
// the deployment; the signaling mount path comes from the shared signal
// package constant, so the client cannot disagree with the server about
// where the endpoint lives.
func DialRelay(ctx context.Context, relayURL string, query url.Values, logger *slog.Logger) (Signaler, error) {
	u, err := url.Parse(relayURL)
	if err != nil {
		return nil, fmt.Errorf("peer: parse relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("peer: unsupported relay url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + signal.DefaultMountPath
	if query != nil {
		u.RawQuery = query.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("peer: dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("peer: dial relay: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &wsSignaler{
		conn: conn,
		log:  logger,
		msgs: make(chan signal.Message, 16),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *wsSignaler) readLoop() {
	defer s.shutdown()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := signal.Parse(raw)
		if err != nil {
			s.log.Warn("dropping undecodable signaling message", "err", err)
			continue
		}
		select {
		case s.msgs <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *wsSignaler) Send(msg signal.Message) error {
	select {
	case <-s.done:
		return ErrSignalingClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(signalerWriteWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.shutdown()
		return fmt.Errorf("peer: send signaling message: %w", err)
	}
	return nil
}

func (s *wsSignaler) Messages() <-chan signal.Message { return s.msgs }

func (s *wsSignaler) Done() <-chan struct{} { return s.done }

func (s *wsSignaler) Close() error {
	s.shutdown()
	return nil
}

func (s *wsSignaler) shutdown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(signalerWriteWait))
		_ = s.conn.Close()
	})
}
