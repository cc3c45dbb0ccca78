// ABOUTME: Buffered websocket connection wrapper shared by agent and client sockets
// ABOUTME: Single writer goroutine owns the socket; Send never blocks the read loop

package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tetherlabs/tether/internal/protocol"
)

// sendQueueSize bounds outbound frames buffered per connection.
const sendQueueSize = 128

// conn wraps a websocket with a buffered send queue and a single writer
// goroutine. All writes go through Send; the writer applies deadlines and
// emits keepalive pings.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	writeWait  time.Duration
	pingPeriod time.Duration
}

func newConn(ws *websocket.Conn, writeWait, pingPeriod time.Duration) *conn {
	c := &conn{
		ws:         ws,
		send:       make(chan []byte, sendQueueSize),
		closed:     make(chan struct{}),
		writeWait:  writeWait,
		pingPeriod: pingPeriod,
	}
	go c.writeLoop()
	return c
}

// Send queues a raw frame for delivery. Returns ErrCloseSent if the
// connection is gone or the queue is full (a stalled peer must not block
// the other side's read loop).
func (c *conn) Send(raw []byte) error {
	select {
	case <-c.closed:
		return websocket.ErrCloseSent
	case c.send <- raw:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

// SendMessage marshals and queues a control message.
func (c *conn) SendMessage(v any) error {
	return c.Send(protocol.MustEncode(v))
}

// Close tears the connection down exactly once.
func (c *conn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// CloseWithCode sends a close control frame before tearing down, so the
// peer can distinguish policy closes (replaced, bad token) from drops.
func (c *conn) CloseWithCode(code int, reason string) {
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.writeWait),
	)
	c.Close()
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// AgentConn is one live desktop-agent connection.
type AgentConn struct {
	*conn

	AgentID     string
	PairingCode string
	SystemInfo  protocol.SystemInfo
	ConnectedAt time.Time

	// UserID is empty while the agent is pending; set exactly once under
	// the registry lock when the agent is paired.
	UserID string
}

// ClientConn is one live control-client connection.
type ClientConn struct {
	*conn

	UserID      string
	ConnectedAt time.Time
}
