package behavior

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-parrot/internal/observe"
)

// Scheduler defaults.
const (
	DefaultTick            = time.Second
	DefaultBaseProbability = 0.2
	DefaultMaxSilence      = 30 * time.Second
	DefaultIdleRecheck     = 5 * time.Second

	maxMultiplier = 3.0
)

// Rand is the source of trigger and selection draws.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Environment is what the scheduler needs from the running parrot.
type Environment interface {
	// HasClients reports whether any hardware client is attached.
	HasClients() bool
	// IsSpeaking reports whether audio is currently playing.
	IsSpeaking() bool
	// Submit sends text to the voice session as user input.
	Submit(ctx context.Context, text string) error
}

type entry struct {
	Behavior
	last time.Time // zero until first triggered
}

// Scheduler decides when autonomous behaviors fire.
type Scheduler struct {
	base        float64
	maxSilence  time.Duration
	tick        time.Duration
	idleRecheck time.Duration
	now         func() time.Time
	rng         Rand
	logger      *slog.Logger
	metrics     *observe.Metrics

	enabled atomic.Bool

	mu           sync.Mutex
	entries      []*entry
	lastActivity time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBaseProbability sets the per-tick trigger probability before scaling.
func WithBaseProbability(p float64) Option {
	return func(s *Scheduler) {
		if p >= 0 && p <= 1 {
			s.base = p
		}
	}
}

// WithMaxSilence sets the silence window over which probability scales up.
func WithMaxSilence(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxSilence = d
		}
	}
}

// WithTick sets the decision interval.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithIdleRecheck sets how long Run waits while no hardware client is attached.
func WithIdleRecheck(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.idleRecheck = d
		}
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRand sets the random source.
func WithRand(r Rand) Option {
	return func(s *Scheduler) { s.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics records fired behaviors.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithEnabled sets the initial autonomous mode.
func WithEnabled(on bool) Option {
	return func(s *Scheduler) { s.enabled.Store(on) }
}

// NewScheduler creates a Scheduler over behaviors. Autonomous mode starts
// enabled unless WithEnabled(false) is given. Behaviors with a non-positive
// frequency never fire.
func NewScheduler(behaviors []Behavior, opts ...Option) *Scheduler {
	s := &Scheduler{
		base:        DefaultBaseProbability,
		maxSilence:  DefaultMaxSilence,
		tick:        DefaultTick,
		idleRecheck: DefaultIdleRecheck,
		now:         time.Now,
		rng:         globalRand{},
		logger:      slog.Default(),
	}
	s.enabled.Store(true)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "behavior.scheduler")

	for _, b := range behaviors {
		if b.Cooldown < 0 {
			b.Cooldown = 0
		}
		s.entries = append(s.entries, &entry{Behavior: b})
	}
	s.lastActivity = s.now()
	return s
}

// Touch records conversational activity, resetting the silence timer.
func (s *Scheduler) Touch() {
	now := s.now()
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Silence returns the time since the last activity.
func (s *Scheduler) Silence() time.Duration {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// SetEnabled toggles autonomous mode.
func (s *Scheduler) SetEnabled(on bool) {
	if s.enabled.Swap(on) != on {
		s.logger.Info("autonomous mode changed", "enabled", on)
	}
}

// Enabled reports whether autonomous mode is on.
func (s *Scheduler) Enabled() bool {
	return s.enabled.Load()
}

// LastTriggered returns when the named behavior last fired, or the zero
// time if it never has.
func (s *Scheduler) LastTriggered(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Name == name {
			return e.last
		}
	}
	return time.Time{}
}

// Multiplier returns the probability scale for a silence duration.
func (s *Scheduler) Multiplier(silence time.Duration) float64 {
	return min(maxMultiplier, 1+silence.Seconds()/s.maxSilence.Seconds())
}

// eligible returns behaviors whose silence and cooldown gates are open.
// Caller holds s.mu.
func (s *Scheduler) eligible(now time.Time, silence time.Duration) []*entry {
	var out []*entry
	for _, e := range s.entries {
		if e.Frequency <= 0 || silence < e.MinSilence {
			continue
		}
		if !e.last.IsZero() && now.Sub(e.last) < e.Cooldown {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Eligible returns the names of behaviors whose silence and cooldown gates
// are open right now.
func (s *Scheduler) Eligible() []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	names := []string{}
	for _, e := range s.eligible(now, now.Sub(s.lastActivity)) {
		names = append(names, e.Name)
	}
	return names
}

// Decide runs one trigger decision at now. On success the chosen behavior
// is stamped as triggered and returned.
func (s *Scheduler) Decide(now time.Time) (Behavior, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	silence := now.Sub(s.lastActivity)
	candidates := s.eligible(now, silence)
	if len(candidates) == 0 {
		return Behavior{}, false
	}
	if s.rng.Float64() >= s.base*s.Multiplier(silence) {
		return Behavior{}, false
	}

	chosen := s.choose(candidates)
	chosen.last = now
	return chosen.Behavior, true
}

// choose makes a frequency-weighted draw among candidates.
func (s *Scheduler) choose(candidates []*entry) *entry {
	var total float64
	for _, e := range candidates {
		total += e.Frequency
	}
	r := s.rng.Float64() * total
	for _, e := range candidates {
		r -= e.Frequency
		if r < 0 {
			return e
		}
	}
	return candidates[len(candidates)-1]
}

// Step performs one scheduler tick against env. It returns the behavior
// that fired, if any. Nothing fires while autonomous mode is off, while the
// parrot is speaking or when no hardware client is attached.
func (s *Scheduler) Step(ctx context.Context, env Environment) (Behavior, bool, error) {
	if !s.Enabled() || env.IsSpeaking() || !env.HasClients() {
		return Behavior{}, false, nil
	}

	now := s.now()
	b, ok := s.Decide(now)
	if !ok {
		return Behavior{}, false, nil
	}

	s.logger.Info("triggering autonomous behavior", "behavior", b.Name, "silence", s.Silence().Round(time.Second))
	s.metrics.BehaviorFired(ctx, b.Name)
	s.Touch()

	return b, true, env.Submit(ctx, b.Text())
}

// Run ticks until ctx is done. While no hardware client is attached it
// waits the idle recheck interval instead of the tick.
func (s *Scheduler) Run(ctx context.Context, env Environment) error {
	s.logger.Info("behavior scheduler started", "behaviors", len(s.entries), "tick", s.tick)

	timer := time.NewTimer(s.tick)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := s.tick
		if s.Enabled() && !env.HasClients() {
			wait = s.idleRecheck
		} else if _, _, err := s.Step(ctx, env); err != nil {
			s.logger.Warn("autonomous behavior not delivered", "error", err)
		}
		timer.Reset(wait)
	}
}
