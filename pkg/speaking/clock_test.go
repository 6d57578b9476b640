package speaking

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeTime is a manually advanced time source.
type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestClockSingleFragment(t *testing.T) {
	// One second of audio arriving at t: speaking throughout [t, t+d+grace).
	ft := newFakeTime()
	c := NewClock(WithNow(ft.Now))

	if c.IsSpeaking() {
		t.Fatal("new clock should be idle")
	}

	start := c.ExtendBytes(48000)
	if !start.Equal(ft.Now()) {
		t.Errorf("idle clock should start at now, got %v", start)
	}

	const d = time.Second
	for offset := time.Duration(0); offset < d+DefaultGrace; offset += 10 * time.Millisecond {
		c.Tick()
		if !c.IsSpeaking() {
			t.Fatalf("not speaking at offset %v", offset)
		}
		ft.Advance(10 * time.Millisecond)
	}

	// Now exactly at t+d+grace.
	c.Tick()
	if c.IsSpeaking() {
		t.Error("should stop speaking at t+d+grace")
	}
	if !c.End().IsZero() {
		t.Error("end should reset after speaking stops")
	}
}

func TestClockAccumulates(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(WithNow(ft.Now), WithGrace(0))

	first := c.Extend(500 * time.Millisecond)
	second := c.Extend(500 * time.Millisecond)

	if got := second.Sub(first); got != 500*time.Millisecond {
		t.Errorf("second fragment should start after the first, gap = %v", got)
	}
	if got := c.Remaining(); got != time.Second {
		t.Errorf("Remaining() = %v, want 1s", got)
	}

	ft.Advance(999 * time.Millisecond)
	c.Tick()
	if !c.IsSpeaking() {
		t.Error("should still be speaking before queued audio ends")
	}

	ft.Advance(time.Millisecond)
	c.Tick()
	if c.IsSpeaking() {
		t.Error("should stop once queued audio ends")
	}
}

func TestClockLateFragmentStartsAtNow(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(WithNow(ft.Now))

	c.Extend(100 * time.Millisecond)
	// Delivery stalls past end but within grace: speaking never dropped.
	ft.Advance(200 * time.Millisecond)
	start := c.Extend(100 * time.Millisecond)

	if !start.Equal(ft.Now()) {
		t.Errorf("late fragment should start at now, got offset %v", start.Sub(ft.Now()))
	}
	if !c.End().After(ft.Now()) {
		t.Error("end must stay ahead of now while speaking")
	}
}

func TestClockOnChange(t *testing.T) {
	ft := newFakeTime()
	c := NewClock(WithNow(ft.Now))

	var got []bool
	c.OnChange(func(s bool) { got = append(got, s) })

	c.Extend(100 * time.Millisecond)
	c.Extend(100 * time.Millisecond)
	ft.Advance(time.Second)
	c.Tick()
	c.Tick()

	if len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("transitions = %v, want [true false]", got)
	}
}

func TestClockRunStopsOnCancel(t *testing.T) {
	c := NewClock(WithTick(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Extend(time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
