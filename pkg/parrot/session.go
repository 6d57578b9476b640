package parrot

import (
	"context"
	"time"

	"github.com/teslashibe/go-parrot/pkg/conversation"
)

// onClientsChanged runs after every speaker or microphone membership change.
func (a *App) onClientsChanged(name string, count int) {
	a.logger.Debug("hardware clients changed", "hub", name, "count", count)
	a.signalReconcile()
}

func (a *App) signalReconcile() {
	select {
	case a.reconcile <- struct{}{}:
	default:
	}
}

// hardwareAttached reports whether any speaker or microphone is connected.
func (a *App) hardwareAttached() bool {
	return a.speakers.ClientCount()+a.mics.ClientCount() > 0
}

// runSession keeps the voice session open exactly while hardware clients are
// attached.
func (a *App) runSession(ctx context.Context) error {
	retry := time.NewTimer(0)
	if !retry.Stop() {
		<-retry.C
	}
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.reconcile:
		case <-retry.C:
		}

		if err := a.reconcileSession(ctx); err != nil {
			a.logger.Warn("voice session connect failed", "error", err, "retry_in", sessionRetryDelay)
			retry.Reset(sessionRetryDelay)
		}
	}
}

// reconcileSession connects or disconnects the session to match client
// occupancy.
func (a *App) reconcileSession(ctx context.Context) error {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	want := a.hardwareAttached()
	connected := a.session.IsConnected()

	switch {
	case want && !connected:
		a.logger.Info("hardware attached, connecting voice session", "backend", a.session.Backend())
		err := a.session.Connect(ctx)
		a.metrics.SessionConnect(ctx, a.session.Backend(), err == nil)
		if err != nil {
			return err
		}
		a.scheduler.Touch()
		a.logger.Info("voice session connected")

	case !want && connected:
		a.logger.Info("no hardware attached, disconnecting voice session")
		if err := a.session.Disconnect(); err != nil {
			a.logger.Warn("session disconnect failed", "error", err)
		}
		a.anim.Clear()
	}
	return nil
}

// runEvents consumes session events until ctx is done. The events channel
// outlives individual connections.
func (a *App) runEvents(ctx context.Context) error {
	events := a.session.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, ev conversation.Event) {
	a.metrics.SessionEvent(ctx, ev.Type.String())

	switch ev.Type {
	case conversation.EventAudio:
		a.scheduler.Touch()
		start, ok := a.relay.Play(ctx, ev.Audio)
		if !ok {
			a.logger.Debug("dropping audio, no speakers", "bytes", len(ev.Audio))
			return
		}
		a.anim.Enqueue(ev.Audio, start)

	case conversation.EventTranscript:
		if ev.Role == conversation.RoleUser {
			a.scheduler.Touch()
			if ev.Final {
				a.logger.Info("heard", "text", ev.Text)
			}
			return
		}
		a.agentMu.Lock()
		if ev.Final {
			// A final transcript repeats the deltas that preceded it.
			a.agentText.WriteString(ev.Text)
			a.agentPartial.Reset()
		} else {
			a.agentPartial.WriteString(ev.Text)
		}
		a.agentMu.Unlock()

	case conversation.EventSpeechStarted:
		a.scheduler.Touch()
		a.relay.FlushUtterance(ctx)

	case conversation.EventSpeechStopped:
		a.logger.Debug("user speech stopped")

	case conversation.EventTurnDone:
		a.agentMu.Lock()
		text := a.agentText.String() + a.agentPartial.String()
		a.agentText.Reset()
		a.agentPartial.Reset()
		a.agentMu.Unlock()
		if text != "" {
			a.logger.Info("said", "text", text)
		}

	case conversation.EventError:
		a.logger.Warn("voice session error", "error", ev.Err)
		if conversation.IsConnectionError(ev.Err) {
			a.signalReconcile()
		}
	}
}
