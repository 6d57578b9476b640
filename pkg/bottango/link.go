package bottango

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-parrot/internal/observe"
	"github.com/teslashibe/go-parrot/pkg/robot"
)

// Protocol timing defaults.
const (
	DefaultSettleDelay      = 2 * time.Second
	DefaultBootTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultCommandTimeout   = 5 * time.Second
	DefaultRetryDelay       = 2 * time.Second
)

var (
	// ErrNotReady is returned for commands issued before the handshake completes.
	ErrNotReady = errors.New("bottango: link not ready")
	// ErrTimeout is returned when the controller does not answer in time.
	ErrTimeout = errors.New("bottango: timed out waiting for controller")
)

// CommandError reports a command the controller did not acknowledge.
type CommandError struct {
	Command string
	Cause   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("bottango: command %q: %v", e.Command, e.Cause)
}

func (e *CommandError) Unwrap() error {
	return e.Cause
}

// State is the link handshake state.
type State int32

const (
	StateAwaitingBoot State = iota
	StateHandshakeSent
	StateAwaitingAck
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAwaitingBoot:
		return "awaiting_boot"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Link runs the handshake and the command-then-OK exchange over a Transport.
// Commands are serialized; a Link implements robot.Actuator.
type Link struct {
	t       Transport
	logger  *slog.Logger
	metrics *observe.Metrics

	settle           time.Duration
	bootTimeout      time.Duration
	handshakeTimeout time.Duration
	commandTimeout   time.Duration
	retryDelay       time.Duration
	handshake        bool
	acks             bool

	state    atomic.Int32
	attempts atomic.Int64
	cmdMu    sync.Mutex
}

// LinkOption configures a Link.
type LinkOption func(*Link)

// WithSettleDelay sets the wait after opening before the first boot poll.
func WithSettleDelay(d time.Duration) LinkOption {
	return func(l *Link) { l.settle = d }
}

// WithBootTimeout bounds each wait for the boot marker.
func WithBootTimeout(d time.Duration) LinkOption {
	return func(l *Link) { l.bootTimeout = d }
}

// WithHandshakeTimeout bounds the waits for the handshake token and its OK.
func WithHandshakeTimeout(d time.Duration) LinkOption {
	return func(l *Link) { l.handshakeTimeout = d }
}

// WithCommandTimeout bounds the wait for a command's OK.
func WithCommandTimeout(d time.Duration) LinkOption {
	return func(l *Link) { l.commandTimeout = d }
}

// WithRetryDelay sets the pause between failed handshake attempts.
func WithRetryDelay(d time.Duration) LinkOption {
	return func(l *Link) { l.retryDelay = d }
}

// WithoutHandshake marks the link ready on Connect. Websocket controllers
// are already running when they dial in and do not print a boot marker.
func WithoutHandshake() LinkOption {
	return func(l *Link) { l.handshake = false }
}

// WithoutAcks makes commands fire-and-forget.
func WithoutAcks() LinkOption {
	return func(l *Link) { l.acks = false }
}

// WithLinkLogger sets the logger.
func WithLinkLogger(lg *slog.Logger) LinkOption {
	return func(l *Link) { l.logger = lg }
}

// WithLinkMetrics records handshakes and command outcomes.
func WithLinkMetrics(m *observe.Metrics) LinkOption {
	return func(l *Link) { l.metrics = m }
}

// NewLink creates a Link over t in the awaiting_boot state.
func NewLink(t Transport, opts ...LinkOption) *Link {
	l := &Link{
		t:                t,
		logger:           slog.Default(),
		settle:           DefaultSettleDelay,
		bootTimeout:      DefaultBootTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		commandTimeout:   DefaultCommandTimeout,
		retryDelay:       DefaultRetryDelay,
		handshake:        true,
		acks:             true,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "bottango.link")
	return l
}

// State returns the current handshake state.
func (l *Link) State() State {
	return State(l.state.Load())
}

// Ready reports whether commands are accepted.
func (l *Link) Ready() bool {
	return l.State() == StateReady
}

// Attempts returns the number of handshake attempts made so far.
func (l *Link) Attempts() int {
	return int(l.attempts.Load())
}

func (l *Link) setState(s State) {
	if prev := State(l.state.Swap(int32(s))); prev != s {
		l.logger.Debug("link state", "from", prev.String(), "to", s.String())
	}
}

// Connect runs the handshake, retrying without limit until the controller
// answers or ctx is done. On cancellation the link is left in awaiting_boot.
func (l *Link) Connect(ctx context.Context) error {
	if !l.handshake {
		l.setState(StateReady)
		l.logger.Info("controller link ready", "handshake", false)
		return nil
	}

	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	l.logger.Info("initializing controller connection")
	if err := sleepCtx(ctx, l.settle); err != nil {
		return err
	}

	for {
		n := l.attempts.Add(1)
		if l.attempt(ctx) {
			l.metrics.Handshake(ctx, true)
			l.logger.Info("handshake successful", "attempt", n)
			return nil
		}
		l.setState(StateAwaitingBoot)
		if err := ctx.Err(); err != nil {
			return err
		}
		l.metrics.Handshake(ctx, false)
		l.logger.Warn("connection sequence failed, retrying", "attempt", n, "retry_in", l.retryDelay)
		if err := sleepCtx(ctx, l.retryDelay); err != nil {
			return err
		}
	}
}

// attempt runs one boot-handshake-OK sequence. Caller holds cmdMu.
func (l *Link) attempt(ctx context.Context) bool {
	l.setState(StateAwaitingBoot)
	if !l.waitFor(ctx, BootMarker, l.bootTimeout) {
		l.logger.Debug("no boot marker", "timeout", l.bootTimeout)
		return false
	}

	if err := l.t.WriteLine(ctx, HandshakeRequest); err != nil {
		l.logger.Warn("handshake request failed", "error", err)
		return false
	}
	l.setState(StateHandshakeSent)
	if !l.waitFor(ctx, HandshakeAck, l.handshakeTimeout) {
		return false
	}

	l.setState(StateAwaitingAck)
	if !l.waitFor(ctx, OK, l.handshakeTimeout) {
		return false
	}

	l.setState(StateReady)
	return true
}

// waitFor reads lines until one contains token, the timeout elapses, the
// transport closes or ctx is done.
func (l *Link) waitFor(ctx context.Context, token string, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case line, ok := <-l.t.Lines():
			if !ok {
				return false
			}
			if strings.Contains(line, token) {
				return true
			}
			l.logger.Debug("controller", "line", line)
		}
	}
}

// drain discards lines left over from earlier exchanges so a stale OK
// cannot acknowledge the next command.
func (l *Link) drain() {
	for {
		select {
		case _, ok := <-l.t.Lines():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Command sends cmd and waits for the controller's OK.
func (l *Link) Command(ctx context.Context, cmd string) error {
	if !l.Ready() {
		return &CommandError{Command: cmd, Cause: ErrNotReady}
	}

	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	if l.acks {
		l.drain()
	}
	if err := l.t.WriteLine(ctx, cmd); err != nil {
		l.metrics.DeviceCommand(ctx, false)
		return &CommandError{Command: cmd, Cause: err}
	}
	if l.acks && !l.waitFor(ctx, OK, l.commandTimeout) {
		l.metrics.DeviceCommand(ctx, false)
		cause := ErrTimeout
		if err := ctx.Err(); err != nil {
			cause = err
		}
		return &CommandError{Command: cmd, Cause: cause}
	}
	l.metrics.DeviceCommand(ctx, true)
	return nil
}

// SetPosition implements robot.Actuator.
func (l *Link) SetPosition(ctx context.Context, axis robot.Axis, pos float64) error {
	pin, ok := Pin(axis)
	if !ok {
		return fmt.Errorf("bottango: no pin for axis %s", axis)
	}
	return l.Command(ctx, PositionCommand(pin, pos))
}

// InitServos registers servos with the controller, stopping at the first
// failure.
func (l *Link) InitServos(ctx context.Context, servos []ServoPin) error {
	for _, s := range servos {
		if err := l.Command(ctx, s.Command()); err != nil {
			return fmt.Errorf("bottango: init servo on pin %d: %w", s.Pin, err)
		}
	}
	l.logger.Info("servos initialized", "count", len(servos))
	return nil
}

// SetCurve schedules a curve movement.
func (l *Link) SetCurve(ctx context.Context, c Curve) error {
	return l.Command(ctx, c.Command())
}

// SweepPositions is the servo test sequence.
var SweepPositions = []float64{0, 0.2, 0.4, 0.6, 0.8, 1, 0}

// Sweep moves each axis through SweepPositions, pausing between steps.
func (l *Link) Sweep(ctx context.Context, pause time.Duration) error {
	for _, a := range []robot.Axis{robot.Mouth, robot.HeadRotation, robot.HeadTilt, robot.Wing} {
		l.logger.Info("testing axis", "axis", a.String())
		for _, pos := range SweepPositions {
			if err := l.SetPosition(ctx, a, pos); err != nil {
				return err
			}
			if err := sleepCtx(ctx, pause); err != nil {
				return err
			}
		}
	}
	return nil
}

// CurveSweep runs each servo through a full-range curve of duration d and
// back, letting the controller interpolate instead of stepping.
func (l *Link) CurveSweep(ctx context.Context, servos []ServoPin, d time.Duration) error {
	ms := int(d / time.Millisecond)
	for _, s := range servos {
		l.logger.Info("testing curve", "pin", s.Pin, "duration", d)
		out := Curve{Pin: s.Pin, DurationMs: ms, StartPos: 0, EndPos: PositionScale}
		back := Curve{Pin: s.Pin, DurationMs: ms, StartPos: PositionScale, EndPos: 0}
		for _, c := range []Curve{out, back} {
			if err := l.SetCurve(ctx, c); err != nil {
				return err
			}
			if err := sleepCtx(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the transport.
func (l *Link) Close() error {
	l.setState(StateAwaitingBoot)
	return l.t.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ robot.Actuator = (*Link)(nil)
