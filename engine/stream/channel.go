package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// Channel is the outbound event sink for a single execution. Implementations
// must never block the node walk for longer than a write deadline: a dead
// peer costs at most one timed-out write, after which sends are dropped.
type Channel interface {
	Send(v any) error
	Close() error
}

// WSChannel sends events to one WebSocket peer. Writes are serialized by a
// mutex because the executor goroutine and the control-loop goroutine both
// emit on the same connection.
type WSChannel struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// NewWSChannel wraps an upgraded connection.
func NewWSChannel(conn *websocket.Conn) *WSChannel {
	return &WSChannel{conn: conn}
}

// Send marshals v to JSON and writes it as one text frame. After the first
// write failure the channel marks itself closed and drops everything else.
func (c *WSChannel) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("channel closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.closed = true
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the underlying connection.
func (c *WSChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
