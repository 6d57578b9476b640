package animation

import (
	"time"

	"github.com/teslashibe/go-parrot/pkg/robot"
)

// Idle gesture defaults.
const (
	DefaultIdleInterval = 500 * time.Millisecond
	DefaultIdleJitter   = 200 * time.Millisecond
	DefaultIdleVariance = 300 * time.Millisecond

	lookLeft  = 0.8
	lookRight = 0.2
	tiltMin   = 0.2
	tiltMax   = 0.8
)

type gesture int

const (
	gestureSide gesture = iota
	gestureTilt
)

// Gesture is one idle target change.
type Gesture struct {
	Axis     robot.Axis
	Position float64
}

// Idle alternates look-left/look-right and head-tilt gestures at randomized
// intervals. It is not safe for concurrent use; the Synchronizer serializes
// access.
type Idle struct {
	base     time.Duration
	jitter   time.Duration
	variance time.Duration
	rng      Rand

	interval    time.Duration
	last        time.Time
	next        gesture
	lookingLeft bool
}

// NewIdle creates an idle generator whose first gesture is due one interval
// after start. Non-positive durations take their defaults.
func NewIdle(base, jitter, variance time.Duration, rng Rand, start time.Time) *Idle {
	if base <= 0 {
		base = DefaultIdleInterval
	}
	if jitter < 0 {
		jitter = DefaultIdleJitter
	}
	if variance < 0 {
		variance = DefaultIdleVariance
	}
	if rng == nil {
		rng = globalRand{}
	}
	return &Idle{
		base:     base,
		jitter:   jitter,
		variance: variance,
		rng:      rng,
		interval: base,
		last:     start,
	}
}

func (g *Idle) draw(lo, hi time.Duration) time.Duration {
	return time.Duration(uniform(g.rng, float64(lo), float64(hi)))
}

// Step returns the gesture due at now, if any. The wait threshold is
// redrawn on every call, so the effective interval varies from check to
// check as well as between gestures.
func (g *Idle) Step(now time.Time) (Gesture, bool) {
	if now.Sub(g.last) <= g.interval+g.draw(0, g.variance) {
		return Gesture{}, false
	}

	var out Gesture
	switch g.next {
	case gestureSide:
		g.lookingLeft = !g.lookingLeft
		pos := lookRight
		if g.lookingLeft {
			pos = lookLeft
		}
		out = Gesture{Axis: robot.HeadRotation, Position: pos}
		if g.rng.Float64() < 0.5 {
			g.next = gestureTilt
		}
	case gestureTilt:
		out = Gesture{Axis: robot.HeadTilt, Position: uniform(g.rng, tiltMin, tiltMax)}
		g.next = gestureSide
	}

	g.last = now
	g.interval = g.base + g.draw(-g.jitter, g.jitter)
	return out, true
}
