package robot

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Default axis tuning. A rate of 1 snaps to the target in one tick.
const (
	DefaultTick         = 50 * time.Millisecond
	DefaultMouthRate    = 1.0
	DefaultWingRate     = 0.6
	DefaultTiltRate     = 0.7
	DefaultRotationRate = 0.7

	// DeadZone skips sending a position that moved less than one step of
	// the controller's 0-8192 range.
	DeadZone = 1.0 / 8192
)

// Rest is the pose the parrot holds when nothing drives it: mouth closed,
// wings folded, head level and centered.
var Rest = Positions{
	Mouth:        1.0,
	Wing:         0.2,
	HeadTilt:     0.4,
	HeadRotation: 0.5,
}

// errorLogInterval limits actuator error logging.
const errorLogInterval = 5 * time.Second

// Controller advances every axis toward its target at a fixed rate and
// forwards changed positions to the Actuator. Target setters are safe for
// concurrent use; Tick and Run must be driven from one goroutine.
type Controller struct {
	act    Actuator
	tick   time.Duration
	logger *slog.Logger

	mu      sync.RWMutex
	rates   Positions
	current Positions
	target  Positions

	// Dead-zone filtering
	lastSent  Positions
	sentOnce  [numAxes]bool
	deadZone  float64
	tickCount uint64
	skipped   uint64

	// Diagnostics
	errorCount    uint64
	lastErrorTime time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithTick sets the control loop interval.
func WithTick(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithRate sets the approach rate for one axis. Rates outside (0, 1] are ignored.
func WithRate(a Axis, rate float64) Option {
	return func(c *Controller) {
		if a >= 0 && a < numAxes && rate > 0 && rate <= 1 {
			c.rates[a] = rate
		}
	}
}

// WithStart sets both the current and target positions.
func WithStart(p Positions) Option {
	return func(c *Controller) {
		for i := range p {
			p[i] = Clamp(p[i])
		}
		c.current = p
		c.target = p
	}
}

// WithDeadZone sets the minimum movement that triggers a send.
func WithDeadZone(d float64) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.deadZone = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller starting at Rest.
// act may be nil, in which case positions are tracked but never sent.
func NewController(act Actuator, opts ...Option) *Controller {
	c := &Controller{
		act:      act,
		tick:     DefaultTick,
		logger:   slog.Default(),
		rates:    Positions{DefaultMouthRate, DefaultWingRate, DefaultTiltRate, DefaultRotationRate},
		current:  Rest,
		target:   Rest,
		deadZone: DeadZone,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "robot.controller")
	return c
}

// SetTarget sets the target for one axis, clamped to [0, 1].
func (c *Controller) SetTarget(a Axis, pos float64) {
	if a < 0 || a >= numAxes {
		return
	}
	c.mu.Lock()
	c.target[a] = Clamp(pos)
	c.mu.Unlock()
}

// Target returns the target of one axis.
func (c *Controller) Target(a Axis) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.target.Get(a)
}

// Position returns the current position of one axis.
func (c *Controller) Position(a Axis) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Get(a)
}

// Positions returns all current positions.
func (c *Controller) Positions() Positions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Stats returns tick, skipped-send and error counters.
func (c *Controller) Stats() (ticks, skipped, errors uint64) {
	return c.tickCount, c.skipped, c.errorCount
}

// Tick executes one control cycle: advance every axis and send the ones
// that moved past the dead zone.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	for i := range c.current {
		next := c.current[i] + (c.target[i]-c.current[i])*c.rates[i]
		c.current[i] = Clamp(next)
	}
	current := c.current
	c.mu.Unlock()

	c.tickCount++
	if c.act == nil {
		return
	}

	sent := 0
	for _, a := range Axes {
		pos := current[a]
		if c.sentOnce[a] && math.Abs(pos-c.lastSent[a]) < c.deadZone {
			continue
		}
		if err := c.act.SetPosition(ctx, a, pos); err != nil {
			c.recordError(a, err)
			continue
		}
		c.lastSent[a] = pos
		c.sentOnce[a] = true
		sent++
	}
	if sent == 0 {
		c.skipped++
	}

	// Heartbeat roughly every 5 seconds at the default tick.
	if c.tickCount%100 == 0 {
		c.logger.Debug("controller heartbeat",
			"ticks", c.tickCount,
			"skipped", c.skipped,
			"errors", c.errorCount,
			"mouth", current[Mouth],
			"wing", current[Wing],
			"tilt", current[HeadTilt],
			"rotation", current[HeadRotation],
		)
	}
}

// recordError logs actuator failures at most once per errorLogInterval.
// A failed command is a dropped frame; the axis is retried next tick.
func (c *Controller) recordError(a Axis, err error) {
	c.errorCount++
	if c.lastErrorTime.IsZero() || time.Since(c.lastErrorTime) > errorLogInterval {
		c.logger.Warn("actuator command failed", "axis", a.String(), "error", err, "total_errors", c.errorCount)
		c.lastErrorTime = time.Now()
	}
}

// Run drives the control loop until ctx is done. before, when non-nil, runs
// at the start of every tick so producers can update targets for that tick.
func (c *Controller) Run(ctx context.Context, before func(now time.Time)) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if before != nil {
				before(now)
			}
			c.Tick(ctx)
		}
	}
}
