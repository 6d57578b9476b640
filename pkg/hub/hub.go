package hub

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/teslashibe/go-parrot/internal/observe"
)

var (
	// ErrClientClosed is returned when sending to a client that was removed.
	ErrClientClosed = errors.New("hub: client closed")

	// ErrQueueFull is returned when a client's outbound queue is full.
	ErrQueueFull = errors.New("hub: client queue full")
)

// Hub maintains the set of connected clients of one kind.
// Iteration always happens over a snapshot, so clients may join or leave
// while a broadcast is in flight.
type Hub struct {
	// Name for logging and metrics ("speaker", "microphone").
	name    string
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	clients  map[string]*Client
	order    []string
	onChange []func(name string, count int)

	pingPeriod time.Duration
	queueSize  int
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithMetrics records client counts and evictions.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithQueueSize bounds each client's outbound queue.
func WithQueueSize(n int) Option {
	return func(h *Hub) { h.queueSize = n }
}

// New creates a new Hub
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:       name,
		logger:     slog.Default(),
		clients:    make(map[string]*Client),
		pingPeriod: pingPeriod,
		queueSize:  DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub."+name)
	return h
}

// Name returns the hub name.
func (h *Hub) Name() string { return h.name }

// OnChange registers fn to run after every membership change with the new
// client count. Callbacks run outside the hub lock.
func (h *Hub) OnChange(fn func(name string, count int)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// Add registers conn and returns its client. The client's writer runs until
// it is removed.
func (h *Hub) Add(conn Conn, remote string) *Client {
	c := newClient(conn, remote, h.queueSize)
	go c.writePump(func(err error) { h.evict(c, err) })

	h.mu.Lock()
	h.clients[c.ID] = c
	h.order = append(h.order, c.ID)
	count := len(h.clients)
	fns := slices.Clone(h.onChange)
	h.mu.Unlock()

	h.metrics.ClientDelta(context.Background(), h.name, 1)
	h.logger.Info("client connected", "client", c.ID, "remote", remote, "total", count)
	for _, fn := range fns {
		fn(h.name, count)
	}
	return c
}

// Remove unregisters c and closes its connection. It reports whether c was
// still registered.
func (h *Hub) Remove(c *Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.clients, c.ID)
	h.order = slices.DeleteFunc(h.order, func(id string) bool { return id == c.ID })
	count := len(h.clients)
	fns := slices.Clone(h.onChange)
	h.mu.Unlock()

	_ = c.Close()
	h.metrics.ClientDelta(context.Background(), h.name, -1)
	h.logger.Info("client disconnected", "client", c.ID, "remaining", count)
	for _, fn := range fns {
		fn(h.name, count)
	}
	return true
}

// Snapshot returns the current clients in connection order.
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.clients[id])
	}
	return out
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg on every client in a snapshot of the set and returns
// without waiting for the writes. Each client receives messages in broadcast
// order. A client whose queue is full is removed, as is one whose write later
// fails. It returns how many clients accepted the message.
func (h *Hub) Broadcast(msg Message) int {
	queued := 0
	for _, c := range h.Snapshot() {
		if err := c.Enqueue(msg); err != nil {
			h.evict(c, err)
			continue
		}
		queued++
	}
	return queued
}

func (h *Hub) evict(c *Client, err error) {
	if h.Remove(c) {
		h.metrics.ClientEvicted(context.Background(), h.name)
		h.logger.Warn("evicted client", "client", c.ID, "error", err)
	}
}

// Serve registers conn, keeps it alive with pings and reads until it fails
// or ctx is done. Every inbound data frame goes to onMessage. The client is
// removed before Serve returns.
func (h *Hub) Serve(ctx context.Context, conn Conn, remote string, onMessage func(*Client, MessageType, []byte)) {
	c := h.Add(conn, remote)
	defer h.Remove(c)

	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(h.pingPeriod, stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-stop:
		}
	}()

	err := c.readPump(func(typ MessageType, data []byte) {
		if onMessage != nil {
			onMessage(c, typ, data)
		}
	})
	h.logger.Debug("read loop ended", "client", c.ID, "error", err)
}
