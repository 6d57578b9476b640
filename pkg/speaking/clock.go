// Package speaking tracks whether the parrot is currently producing audible
// output. Every outbound audio fragment pushes the playback end time forward
// and the speaking flag clears only after a grace period past that end.
package speaking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parrot/pkg/audioio"
)

// Defaults for the speaking clock.
const (
	DefaultGrace = 250 * time.Millisecond
	DefaultTick  = 100 * time.Millisecond
)

// Clock is the single source of truth for "is the parrot speaking".
// All methods are safe for concurrent use.
type Clock struct {
	grace      time.Duration
	tick       time.Duration
	sampleRate int
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	end      time.Time
	speaking bool
	onChange func(speaking bool)
}

// Option configures a Clock.
type Option func(*Clock)

// WithGrace sets the grace period after playback ends.
func WithGrace(d time.Duration) Option {
	return func(c *Clock) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithTick sets the interval of the background check in Run.
func WithTick(d time.Duration) Option {
	return func(c *Clock) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithSampleRate sets the PCM16 sample rate used by ExtendBytes.
func WithSampleRate(rate int) Option {
	return func(c *Clock) {
		if rate > 0 {
			c.sampleRate = rate
		}
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) { c.logger = l }
}

// NewClock returns an idle Clock.
func NewClock(opts ...Option) *Clock {
	c := &Clock{
		grace:      DefaultGrace,
		tick:       DefaultTick,
		sampleRate: audioio.SampleRate,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "speaking.clock")
	return c
}

// OnChange registers fn to be called (outside the lock) whenever the
// speaking flag flips.
func (c *Clock) OnChange(fn func(speaking bool)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Extend queues d of playback and returns the time at which that audio
// starts playing. Idle clocks start at now; busy clocks append after the
// currently queued audio, so the end time never falls behind now.
func (c *Clock) Extend(d time.Duration) time.Time {
	now := c.now()

	c.mu.Lock()
	start := c.end
	if start.Before(now) {
		start = now
	}
	c.end = start.Add(d)
	flipped := !c.speaking
	c.speaking = true
	fn := c.onChange
	c.mu.Unlock()

	if flipped {
		c.logger.Debug("speaking started", "queued", d)
		if fn != nil {
			fn(true)
		}
	}
	return start
}

// ExtendBytes is Extend for n bytes of PCM16 mono audio.
func (c *Clock) ExtendBytes(n int) time.Time {
	return c.Extend(audioio.Duration(n, c.sampleRate))
}

// IsSpeaking reports whether queued audio (plus grace) is still playing.
func (c *Clock) IsSpeaking() bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking && now.Before(c.end.Add(c.grace))
}

// End returns when the queued audio finishes playing. Zero when idle.
func (c *Clock) End() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.end
}

// Remaining returns how much queued audio is left to play.
func (c *Clock) Remaining() time.Duration {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.speaking || !c.end.After(now) {
		return 0
	}
	return c.end.Sub(now)
}

// Tick clears the speaking flag once now has passed end plus grace.
func (c *Clock) Tick() {
	now := c.now()

	c.mu.Lock()
	if !c.speaking || now.Before(c.end.Add(c.grace)) {
		c.mu.Unlock()
		return
	}
	c.speaking = false
	c.end = time.Time{}
	fn := c.onChange
	c.mu.Unlock()

	c.logger.Debug("speaking stopped")
	if fn != nil {
		fn(false)
	}
}

// Run calls Tick periodically until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}
