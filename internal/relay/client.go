package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sketchdeck/peerlink/internal/signal"
)

// client wraps one signaling WebSocket. All writes go through the send queue
// and a single write pump so a slow peer can never block the relay's read
// loops or other peers.
type client struct {
	ws   *websocket.Conn
	send chan signal.Message

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(ws *websocket.Conn) *client {
	return &client{
		ws:   ws,
		send: make(chan signal.Message, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Deliver enqueues a message without blocking. False means the queue is full
// or the connection is closing.
func (c *client) Deliver(msg signal.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Evict implements Conn for the idle sweeper.
func (c *client) Evict(reason string) {
	c.closeWith(websocket.CloseGoingAway, reason)
}

func (c *client) writePump(pingInterval time.Duration) {
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			// Flush whatever is already queued before tearing down, so a
			// terminal error envelope reaches the peer.
			for {
				select {
				case msg := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
					if err := c.ws.WriteJSON(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *client) closeWith(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
	c.close()
	_ = c.ws.Close()
}

// drainAndClose gives queued envelopes a moment to flush, then closes. Used
// when registration fails and the error message must still reach the caller.
func (c *client) drainAndClose(code int, reason string) {
	deadline := time.After(wsWriteWait)
	for len(c.send) > 0 {
		select {
		case <-deadline:
			c.closeWith(code, reason)
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
	c.closeWith(code, reason)
}
