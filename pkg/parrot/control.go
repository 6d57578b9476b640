package parrot

import (
	"context"
	"time"

	"github.com/teslashibe/go-parrot/pkg/conversation"
	"github.com/teslashibe/go-parrot/pkg/web"
)

// Status implements web.Control.
func (a *App) Status() web.Status {
	return web.Status{
		Speaking:      a.clock.IsSpeaking(),
		SpeakingLeft:  a.clock.Remaining().Round(time.Millisecond).String(),
		Speakers:      a.speakers.ClientCount(),
		Microphones:   a.mics.ClientCount(),
		Backend:       a.session.Backend(),
		Session:       a.session.State().String(),
		Device:        a.deviceState(),
		Autonomous:    a.scheduler.Enabled(),
		Silence:       a.scheduler.Silence().Round(time.Second).String(),
		PendingFrames: a.anim.Pending(),
		Eligible:      a.scheduler.Eligible(),
		DroppedEvents: a.session.DroppedEvents(),
	}
}

// SetAutonomous implements web.Control.
func (a *App) SetAutonomous(enabled bool) {
	a.scheduler.SetEnabled(enabled)
	a.logger.Info("autonomous behaviors toggled", "enabled", enabled)
}

// Say submits text to the voice session as a user turn.
func (a *App) Say(_ context.Context, text string) error {
	if !a.session.IsConnected() {
		return conversation.ErrNotConnected
	}
	a.scheduler.Touch()
	return a.session.SendText(text)
}

// behaviorEnv adapts the App to behavior.Environment.
type behaviorEnv struct{ a *App }

// HasClients reports whether a speaker is attached to hear the behavior.
func (e behaviorEnv) HasClients() bool { return e.a.speakers.ClientCount() > 0 }

func (e behaviorEnv) IsSpeaking() bool { return e.a.clock.IsSpeaking() }

func (e behaviorEnv) Submit(ctx context.Context, text string) error {
	return e.a.Say(ctx, text)
}
