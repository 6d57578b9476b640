package bottango

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// lineBuffer is the number of unread controller lines kept.
const lineBuffer = 64

// ErrTransportClosed is returned when writing to a closed transport.
var ErrTransportClosed = errors.New("bottango: transport closed")

// Transport carries command lines to the controller and response lines back.
type Transport interface {
	// WriteLine sends one command; the newline terminator is appended.
	WriteLine(ctx context.Context, line string) error
	// Lines delivers trimmed, non-empty response lines. It is closed when
	// the underlying connection ends.
	Lines() <-chan string
	Close() error
}

// StreamTransport is a Transport over a byte stream such as a serial port.
type StreamTransport struct {
	rwc    io.ReadWriteCloser
	lines  chan string
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamTransport starts reading lines from rwc.
func NewStreamTransport(rwc io.ReadWriteCloser, logger *slog.Logger) *StreamTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &StreamTransport{
		rwc:    rwc,
		lines:  make(chan string, lineBuffer),
		logger: logger.With("component", "bottango.transport"),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// OpenSerial opens a serial port at baud and wraps it in a StreamTransport.
func OpenSerial(port string, baud int, logger *slog.Logger) (*StreamTransport, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("bottango: open serial %s: %w", port, err)
	}
	// Discard whatever the firmware printed before we attached.
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("bottango: reset serial input: %w", err)
	}
	return NewStreamTransport(p, logger), nil
}

// ListPorts returns the serial ports present on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (t *StreamTransport) readLoop() {
	defer close(t.lines)

	sc := bufio.NewScanner(t.rwc)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		default:
			// Nobody is waiting on the controller; keep the newest lines.
			select {
			case <-t.lines:
			default:
			}
			t.lines <- line
		}
	}

	select {
	case <-t.closed:
	default:
		if err := sc.Err(); err != nil {
			t.logger.Warn("controller read ended", "error", err)
		} else {
			t.logger.Info("controller stream closed")
		}
	}
}

// WriteLine implements Transport.
func (t *StreamTransport) WriteLine(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := io.WriteString(t.rwc, line+"\n"); err != nil {
		return fmt.Errorf("bottango: write %q: %w", line, err)
	}
	return nil
}

// Lines implements Transport.
func (t *StreamTransport) Lines() <-chan string {
	return t.lines
}

// Close implements Transport.
func (t *StreamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rwc.Close()
	})
	return err
}
