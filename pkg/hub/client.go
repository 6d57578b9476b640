package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed
	maxMessageSize = 1 << 20

	// DefaultQueueSize is how many outbound messages a client may have
	// pending before it is evicted. 256 chunks of 1024 bytes is about five
	// seconds of 24kHz PCM16.
	DefaultQueueSize = 256
)

// Conn is the subset of a websocket connection the hub needs.
// *websocket.Conn from gofiber/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents a single hardware websocket connection.
type Client struct {
	ID        string
	Remote    string
	Connected time.Time

	conn   Conn
	mu     sync.Mutex // one writer at a time
	closed atomic.Bool

	queue chan Message
	done  chan struct{}
}

func newClient(conn Conn, remote string, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:        uuid.NewString(),
		Remote:    remote,
		Connected: time.Now(),
		conn:      conn,
		queue:     make(chan Message, queueSize),
		done:      make(chan struct{}),
	}
}

// Enqueue queues msg for the client's writer without blocking. It fails with
// ErrQueueFull when the client has fallen too far behind.
func (c *Client) Enqueue(msg Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// writePump writes queued messages in order until the client closes or a
// write fails. onError runs once with the failing write's error.
func (c *Client) writePump(onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if err := c.Send(msg); err != nil {
				if !c.closed.Load() {
					onError(err)
				}
				return
			}
		}
	}
}

// Send writes msg to the connection directly, bypassing the queue.
func (c *Client) Send(msg Message) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(msg.Type.wsType(), msg.Data)
}

func (c *Client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)
	return c.conn.Close()
}

// readPump reads until the connection fails, passing every data frame to
// onMessage. Pongs extend the read deadline.
func (c *Client) readPump(onMessage func(MessageType, []byte)) error {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		// Any inbound frame proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onMessage != nil {
			onMessage(fromWSType(typ), data)
		}
	}
}

// pingLoop keeps the connection alive until stop is closed or a ping fails.
func (c *Client) pingLoop(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
