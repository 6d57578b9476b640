package behavior

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"
)

type constRand float64

func (r constRand) Float64() float64 { return float64(r) }

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeEnv struct {
	mu        sync.Mutex
	clients   bool
	speaking  bool
	submitted []string
	err       error
}

func (e *fakeEnv) HasClients() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clients
}

func (e *fakeEnv) IsSpeaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speaking
}

func (e *fakeEnv) Submit(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, text)
	return e.err
}

func (e *fakeEnv) texts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.submitted...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(clock *fakeClock, rng Rand, behaviors []Behavior) *Scheduler {
	return NewScheduler(behaviors,
		WithNow(clock.Now),
		WithRand(rng),
		WithLogger(quietLogger()),
	)
}

func TestScheduler_FiresAfterLongSilenceThenRespectsCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	greet := Behavior{Name: "greet", Prompt: "Say ahoy.", Frequency: 1, MinSilence: 5 * time.Second, Cooldown: 30 * time.Second}
	s := newTestScheduler(clock, constRand(0), []Behavior{greet})
	env := &fakeEnv{clients: true}

	clock.Advance(40 * time.Second)
	fireTime := clock.Now()

	b, ok, err := s.Step(context.Background(), env)
	if err != nil || !ok {
		t.Fatalf("Step() = %v, %v; want a behavior", ok, err)
	}
	if b.Name != "greet" {
		t.Errorf("fired %q, want greet", b.Name)
	}
	if got := env.texts(); len(got) != 1 || got[0] != "autonomous_command: Say ahoy." {
		t.Errorf("submitted %q", got)
	}
	if last := s.LastTriggered("greet"); !last.Equal(fireTime) {
		t.Errorf("last triggered = %v, want %v", last, fireTime)
	}
	if s.Silence() != 0 {
		t.Errorf("silence should reset after firing, got %v", s.Silence())
	}

	clock.Advance(10 * time.Second)
	if _, ok, _ := s.Step(context.Background(), env); ok {
		t.Error("behavior re-fired inside its cooldown")
	}
	if len(env.texts()) != 1 {
		t.Errorf("submitted %d prompts, want 1", len(env.texts()))
	}
}

func TestScheduler_Gates(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		clients  bool
		speaking bool
		silence  time.Duration
		want     bool
	}{
		{"fires when quiet", true, true, false, 10 * time.Second, true},
		{"disabled", false, true, false, 10 * time.Second, false},
		{"no clients", true, false, false, 10 * time.Second, false},
		{"speaking", true, true, true, 10 * time.Second, false},
		{"not enough silence", true, true, false, 4 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			s := newTestScheduler(clock, constRand(0), []Behavior{{Name: "w", Prompt: "/whistle", Frequency: 1, MinSilence: 5 * time.Second}})
			s.SetEnabled(tt.enabled)
			clock.Advance(tt.silence)

			env := &fakeEnv{clients: tt.clients, speaking: tt.speaking}
			_, ok, _ := s.Step(context.Background(), env)
			if ok != tt.want {
				t.Errorf("fired = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestScheduler_Eligible(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock, constRand(0), []Behavior{
		{Name: "whistle", Prompt: "/whistle", Frequency: 1, MinSilence: 5 * time.Second, Cooldown: time.Minute},
		{Name: "sing", Prompt: "Sing.", Frequency: 1, MinSilence: 20 * time.Second, Cooldown: time.Minute},
		{Name: "never", Prompt: "-", Frequency: 0},
	})

	if got := s.Eligible(); len(got) != 0 {
		t.Errorf("eligible right after activity = %v, want none", got)
	}

	clock.Advance(10 * time.Second)
	if got := s.Eligible(); len(got) != 1 || got[0] != "whistle" {
		t.Errorf("eligible after 10s = %v, want [whistle]", got)
	}

	clock.Advance(15 * time.Second)
	if got := s.Eligible(); len(got) != 2 {
		t.Errorf("eligible after 25s = %v, want whistle and sing", got)
	}
}

func TestScheduler_ProbabilityScalesWithSilence(t *testing.T) {
	s := NewScheduler(nil, WithLogger(quietLogger()))

	tests := []struct {
		silence time.Duration
		want    float64
	}{
		{0, 1},
		{15 * time.Second, 1.5},
		{30 * time.Second, 2},
		{60 * time.Second, 3},
		{10 * time.Minute, 3},
	}
	for _, tt := range tests {
		if got := s.Multiplier(tt.silence); got != tt.want {
			t.Errorf("Multiplier(%v) = %v, want %v", tt.silence, got, tt.want)
		}
	}

	// Draw 0.25 fails at base 0.2 x1, succeeds at x2.
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s = newTestScheduler(clock, constRand(0.25), []Behavior{{Name: "w", Prompt: "/whistle", Frequency: 1}})
	if _, ok := s.Decide(clock.Now()); ok {
		t.Error("draw 0.25 should fail at probability 0.2")
	}
	clock.Advance(30 * time.Second)
	if _, ok := s.Decide(clock.Now()); !ok {
		t.Error("draw 0.25 should succeed at probability 0.4")
	}
}

func TestScheduler_WeightedChoice(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	behaviors := []Behavior{
		{Name: "a", Prompt: "a", Frequency: 1},
		{Name: "b", Prompt: "b", Frequency: 3},
	}

	tests := []struct {
		draw float64
		want string
	}{
		{0, "a"},
		{0.2, "a"},
		{0.25, "b"},
		{0.9, "b"},
	}
	for _, tt := range tests {
		s := newTestScheduler(clock, constRand(tt.draw), behaviors)
		s.base = 1
		b, ok := s.Decide(clock.Now())
		if !ok || b.Name != tt.want {
			t.Errorf("draw %v chose %q (%v), want %q", tt.draw, b.Name, ok, tt.want)
		}
	}
}

func TestScheduler_NeverFiresInsideCooldown(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock, rng, Defaults())
	env := &fakeEnv{clients: true}

	for i := 0; i < 5000; i++ {
		clock.Advance(time.Duration(rng.IntN(3000)) * time.Millisecond)
		if rng.IntN(20) == 0 {
			s.Touch()
		}

		now := clock.Now()
		before := make(map[string]time.Time)
		for _, b := range Defaults() {
			before[b.Name] = s.LastTriggered(b.Name)
		}

		b, ok, err := s.Step(context.Background(), env)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			continue
		}
		if prev := before[b.Name]; !prev.IsZero() && now.Sub(prev) < b.Cooldown {
			t.Fatalf("tick %d: %s fired %v after its last trigger, cooldown %v", i, b.Name, now.Sub(prev), b.Cooldown)
		}
	}
}

func TestScheduler_SubmitErrorStillStamps(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestScheduler(clock, constRand(0), []Behavior{{Name: "w", Prompt: "/whistle", Frequency: 1}})
	env := &fakeEnv{clients: true, err: errors.New("not connected")}

	_, ok, err := s.Step(context.Background(), env)
	if !ok || err == nil {
		t.Fatalf("Step() = %v, %v; want fired with error", ok, err)
	}
	if s.LastTriggered("w").IsZero() {
		t.Error("behavior should be stamped even when delivery fails")
	}
}

func TestDefaults(t *testing.T) {
	seen := make(map[string]bool)
	for _, b := range Defaults() {
		if seen[b.Name] {
			t.Errorf("duplicate behavior %q", b.Name)
		}
		seen[b.Name] = true
		if b.Prompt == "" || b.Frequency <= 0 || b.Cooldown <= 0 {
			t.Errorf("behavior %q incomplete: %+v", b.Name, b)
		}
		if !strings.HasPrefix(b.Text(), CommandPrefix) {
			t.Errorf("Text() = %q", b.Text())
		}
	}
	if len(seen) != 7 {
		t.Errorf("got %d defaults, want 7", len(seen))
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := NewScheduler(Defaults(), WithTick(time.Millisecond), WithIdleRecheck(time.Millisecond), WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &fakeEnv{}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
