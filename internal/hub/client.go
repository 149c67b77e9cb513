package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
)

// State is the lifecycle state of a connection. It only moves forward.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one websocket connection subscribed to a single channel.
type Client struct {
	ID        string
	Channel   domain.Channel
	Moderator string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	state    atomic.Int32
	lastSeen atomic.Int64

	mu         sync.Mutex
	sendClosed bool
}

// NewClient creates a connection in the Connecting state. conn may be
// nil for connections whose delivery is drained by something other than
// WritePump.
func NewClient(id string, h *Hub, conn *websocket.Conn, ch domain.Channel) *Client {
	c := &Client{
		ID:      id,
		Channel: ch,
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, h.config.SendBuffer),
	}
	c.touch()
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// LastSeen returns when the last liveness signal arrived.
func (c *Client) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Outbound exposes the send buffer to code that drains it without a socket.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// advance moves the state forward to s; moving backwards is a no-op.
func (c *Client) advance(s State) bool {
	for {
		cur := c.state.Load()
		if cur >= int32(s) {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return true
		}
	}
}

// enqueue hands msg to the send buffer without blocking. It reports
// false if the buffer is full or already closed.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send buffer once. WritePump then sends a close
// frame and tears the socket down.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
	c.advance(StateClosing)
}

// SendMessage marshals message and enqueues it. A full buffer closes
// the connection just like a missed broadcast.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		c.hub.remove(c, reasonForFailedSend(c))
	}
	return nil
}

// ReadPump reads inbound frames until the connection fails. Every frame
// and every pong counts as a liveness signal.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	l := log.L()
	defer func() {
		c.hub.remove(c, reasonClientClosed)
		c.conn.Close()
	}()

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.LivenessTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(cfg.LivenessTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l.Debug().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read error")
			}
			return
		}

		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(cfg.LivenessTimeout))
		handler(c, message)
	}
}

// WritePump writes queued messages one frame each and pings on an
// interval. It owns all writes to the socket.
func (c *Client) WritePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.advance(StateClosed)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.remove(c, reasonClientClosed)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c, reasonClientClosed)
				return
			}
		}
	}
}

func reasonForFailedSend(c *Client) string {
	if c.State() >= StateClosing {
		return reasonClientClosed
	}
	return reasonBackpressure
}
