package bottango

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/teslashibe/go-parrot/pkg/hub"
)

// ErrNoDevice is returned when no controller socket is attached.
var ErrNoDevice = errors.New("bottango: no device connected")

// WSTransport drives a controller that connects to us over a websocket.
// Commands go to the most recently attached socket; text frames from the
// device are split into response lines.
type WSTransport struct {
	devices *hub.Hub
	lines   chan string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSTransport creates a transport over the device client set.
func NewWSTransport(devices *hub.Hub) *WSTransport {
	return &WSTransport{
		devices: devices,
		lines:   make(chan string, lineBuffer),
		closed:  make(chan struct{}),
	}
}

// Deliver feeds a frame received from a device socket.
func (t *WSTransport) Deliver(data []byte) {
	select {
	case <-t.closed:
		return
	default:
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		default:
		}
	}
}

// WriteLine implements Transport.
func (t *WSTransport) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	clients := t.devices.Snapshot()
	if len(clients) == 0 {
		return ErrNoDevice
	}
	current := clients[len(clients)-1]
	if err := current.Send(hub.NewTextMessage([]byte(line + "\n"))); err != nil {
		t.devices.Remove(current)
		return err
	}
	return nil
}

// Lines implements Transport. The channel is never closed; device sockets
// come and go while the transport lives on.
func (t *WSTransport) Lines() <-chan string {
	return t.lines
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}
