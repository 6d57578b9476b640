// Package animation turns outbound speech audio into servo targets.
//
// An Analyzer slices each audio fragment into fixed windows and maps the
// loudness of every window to a Frame of mouth, wing and head targets. An
// Idle generator produces look-around gestures while the parrot is quiet.
// The Synchronizer schedules frames against playback time and feeds both
// sources into the robot.Controller heartbeat.
package animation

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/teslashibe/go-parrot/pkg/audioio"
	"github.com/teslashibe/go-parrot/pkg/robot"
)

// Tunable parameters
const (
	DefaultResolution     = 50 * time.Millisecond
	DefaultMouthThreshold = 800.0  // 80th percentile amplitude that opens the mouth
	DefaultEnergyScale    = 2000.0 // amplitude that maps to full energy
	DefaultSmoothing      = 0.5    // weight of the previous energy in the moving average

	// Loudness percentile used as the envelope estimate.
	loudnessPercentile = 80

	// Mouth positions: 1 is closed, open positions are drawn from [0, mouthOpenMax).
	mouthClosed  = 1.0
	mouthOpenMax = 0.5

	wingBase   = 0.2
	wingGain   = 1.2 * 0.8
	wingJitter = 0.1

	tiltBase = 0.4
	tiltGain = 0.3 * 0.6

	rotationCenter = 0.5
	rotationJitter = 0.1
)

// Rand is the source of randomness for jitter and gestures.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// uniform draws from [lo, hi).
func uniform(r Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Frame is the set of targets derived from one audio window.
type Frame struct {
	Mouth    float64
	Wing     float64
	Tilt     float64
	Rotation float64
}

// Params configures an Analyzer.
type Params struct {
	Resolution     time.Duration
	SampleRate     int
	MouthThreshold float64
	EnergyScale    float64
	Smoothing      float64
}

// DefaultParams returns the stock tuning for 24 kHz speech.
func DefaultParams() Params {
	return Params{
		Resolution:     DefaultResolution,
		SampleRate:     audioio.SampleRate,
		MouthThreshold: DefaultMouthThreshold,
		EnergyScale:    DefaultEnergyScale,
		Smoothing:      DefaultSmoothing,
	}
}

// Analyzer maps audio windows to Frames. Energy smoothing carries across
// fragments, so one Analyzer should see the fragments of a turn in order.
type Analyzer struct {
	p   Params
	rng Rand

	mu         sync.Mutex
	lastEnergy float64
}

// NewAnalyzer creates an Analyzer. Zero fields in p take their defaults;
// a nil rng uses the global math/rand/v2 source.
func NewAnalyzer(p Params, rng Rand) *Analyzer {
	d := DefaultParams()
	if p.Resolution <= 0 {
		p.Resolution = d.Resolution
	}
	if p.SampleRate <= 0 {
		p.SampleRate = d.SampleRate
	}
	if p.MouthThreshold <= 0 {
		p.MouthThreshold = d.MouthThreshold
	}
	if p.EnergyScale <= 0 {
		p.EnergyScale = d.EnergyScale
	}
	if p.Smoothing < 0 || p.Smoothing >= 1 {
		p.Smoothing = d.Smoothing
	}
	if rng == nil {
		rng = globalRand{}
	}
	return &Analyzer{p: p, rng: rng}
}

// Resolution returns the window duration.
func (a *Analyzer) Resolution() time.Duration {
	return a.p.Resolution
}

// WindowBytes returns the size of one analysis window in bytes.
func (a *Analyzer) WindowBytes() int {
	return audioio.BytesFor(a.p.Resolution, a.p.SampleRate)
}

// Analyze returns one Frame per whole window of pcm. A trailing partial
// window is ignored.
func (a *Analyzer) Analyze(pcm []byte) []Frame {
	size := a.WindowBytes()
	if size <= 0 || len(pcm) < size {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	frames := make([]Frame, 0, len(pcm)/size)
	for off := 0; off+size <= len(pcm); off += size {
		amp := audioio.Percentile(audioio.BytesToSamples(pcm[off:off+size]), loudnessPercentile)
		frames = append(frames, a.frame(amp))
	}
	return frames
}

// frame computes targets for one window amplitude. Caller holds a.mu.
func (a *Analyzer) frame(amp float64) Frame {
	var f Frame

	// The mouth snaps between closed and a random partial opening rather
	// than following the envelope.
	if amp > a.p.MouthThreshold {
		f.Mouth = uniform(a.rng, 0, mouthOpenMax)
	} else {
		f.Mouth = mouthClosed
	}

	energy := min(1, amp/a.p.EnergyScale)
	smoothed := energy*(1-a.p.Smoothing) + a.lastEnergy*a.p.Smoothing
	a.lastEnergy = smoothed

	f.Wing = robot.Clamp(wingBase + smoothed*wingGain + uniform(a.rng, -wingJitter, wingJitter))
	f.Tilt = robot.Clamp(tiltBase + smoothed*tiltGain)
	f.Rotation = robot.Clamp(rotationCenter + uniform(a.rng, -rotationJitter, rotationJitter))
	return f
}

// energy returns the current smoothed energy.
func (a *Analyzer) energy() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEnergy
}

// Reset clears the energy history.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.lastEnergy = 0
	a.mu.Unlock()
}
