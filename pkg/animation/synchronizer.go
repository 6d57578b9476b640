package animation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parrot/pkg/robot"
)

// SpeakingState reports whether the parrot is producing audible output.
type SpeakingState interface {
	IsSpeaking() bool
}

type timedFrame struct {
	at    time.Time
	frame Frame
}

// Synchronizer schedules analyzed frames at their playback time and applies
// them, or idle gestures when quiet, to the controller targets once per
// controller tick.
type Synchronizer struct {
	ctrl     *robot.Controller
	speaking SpeakingState
	analyzer *Analyzer
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []timedFrame
	idle    *Idle
	resting bool
}

// NewSynchronizer wires an analyzer and idle generator to ctrl.
func NewSynchronizer(ctrl *robot.Controller, speaking SpeakingState, analyzer *Analyzer, idle *Idle, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		ctrl:     ctrl,
		speaking: speaking,
		analyzer: analyzer,
		idle:     idle,
		logger:   logger.With("component", "animation.sync"),
	}
}

// Enqueue analyzes a fragment whose playback begins at start and schedules
// one frame per window. It returns the number of frames queued.
func (s *Synchronizer) Enqueue(pcm []byte, start time.Time) int {
	frames := s.analyzer.Analyze(pcm)
	if len(frames) == 0 {
		return 0
	}

	res := s.analyzer.Resolution()
	s.mu.Lock()
	for i, f := range frames {
		s.queue = append(s.queue, timedFrame{at: start.Add(time.Duration(i) * res), frame: f})
	}
	s.resting = false
	s.mu.Unlock()

	s.logger.Debug("animation frames queued", "frames", len(frames), "start", start.Format("15:04:05.000"))
	return len(frames)
}

// Pending returns the number of frames not yet applied.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear drops all pending frames, e.g. when the session is interrupted.
func (s *Synchronizer) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.analyzer.Reset()
}

// Apply sets controller targets for time now. Frames that fell behind are
// skipped in favor of the most recent due frame.
func (s *Synchronizer) Apply(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := -1
	for i, tf := range s.queue {
		if tf.at.After(now) {
			break
		}
		due = i
	}
	if due >= 0 {
		f := s.queue[due].frame
		s.queue = s.queue[due+1:]
		s.ctrl.SetTarget(robot.Mouth, f.Mouth)
		s.ctrl.SetTarget(robot.Wing, f.Wing)
		s.ctrl.SetTarget(robot.HeadTilt, f.Tilt)
		s.ctrl.SetTarget(robot.HeadRotation, f.Rotation)
		return
	}

	if len(s.queue) > 0 || s.speaking.IsSpeaking() {
		return
	}

	// Quiet: close the mouth, fold the wings once, then look around.
	if !s.resting {
		s.ctrl.SetTarget(robot.Mouth, robot.Rest[robot.Mouth])
		s.ctrl.SetTarget(robot.Wing, robot.Rest[robot.Wing])
		s.analyzer.Reset()
		s.resting = true
	}
	if s.idle == nil {
		return
	}
	if g, ok := s.idle.Step(now); ok {
		s.ctrl.SetTarget(g.Axis, g.Position)
	}
}

// Run drives the controller heartbeat with Apply until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	return s.ctrl.Run(ctx, s.Apply)
}
