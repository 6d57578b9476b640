package conversation

import (
	"log/slog"
	"sync/atomic"
)

// eventStream is the single outbound event queue of a session. A slow
// consumer loses events instead of stalling the socket read loop.
type eventStream struct {
	ch      chan Event
	dropped atomic.Int64
	logger  *slog.Logger
}

func newEventStream(size int, logger *slog.Logger) *eventStream {
	if size <= 0 {
		size = 1
	}
	return &eventStream{
		ch:     make(chan Event, size),
		logger: logger,
	}
}

func (s *eventStream) emit(ev Event) {
	select {
	case s.ch <- ev:
	default:
		n := s.dropped.Add(1)
		s.logger.Warn("event channel full, dropping event",
			"type", ev.Type.String(),
			"dropped_total", n,
		)
	}
}

func (s *eventStream) emitError(err error) {
	s.emit(Event{Type: EventError, Err: err})
}

// Dropped reports how many events were discarded because the consumer lagged.
func (s *eventStream) Dropped() int64 {
	return s.dropped.Load()
}
