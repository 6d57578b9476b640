// Package observe provides the OpenTelemetry metric instruments used across
// go-parrot. Components accept a *Metrics that may be nil; every recording
// helper is a no-op on a nil receiver so tests and tools can skip metrics.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all go-parrot metrics.
const meterName = "github.com/teslashibe/go-parrot"

// Metrics holds all metric instruments for the application.
type Metrics struct {
	RelayChunks     metric.Int64Counter
	RelayBytes      metric.Int64Counter
	RelayEvictions  metric.Int64Counter
	MicDropped      metric.Int64Counter
	MicForwarded    metric.Int64Counter
	SessionEvents   metric.Int64Counter
	SessionConnects metric.Int64Counter
	DeviceCommands  metric.Int64Counter
	Handshakes      metric.Int64Counter
	BehaviorsFired  metric.Int64Counter
	ActiveClients   metric.Int64UpDownCounter
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&met.RelayChunks, "parrot.relay.chunks", "Audio chunks delivered to hardware clients.", "{chunk}"},
		{&met.RelayBytes, "parrot.relay.bytes", "Audio bytes delivered to hardware clients.", "By"},
		{&met.RelayEvictions, "parrot.relay.evictions", "Hardware clients removed after a failed send.", "{client}"},
		{&met.MicDropped, "parrot.relay.mic_dropped", "Microphone frames dropped while speaking.", "{frame}"},
		{&met.MicForwarded, "parrot.relay.mic_forwarded", "Microphone payloads forwarded to the voice session.", "{payload}"},
		{&met.SessionEvents, "parrot.session.events", "Inbound voice session events by type.", "{event}"},
		{&met.SessionConnects, "parrot.session.connects", "Voice session connect attempts by result.", "{attempt}"},
		{&met.DeviceCommands, "parrot.device.commands", "Actuator controller commands by status.", "{command}"},
		{&met.Handshakes, "parrot.device.handshakes", "Actuator controller handshake attempts by result.", "{attempt}"},
		{&met.BehaviorsFired, "parrot.behavior.fired", "Autonomous behaviors fired by name.", "{behavior}"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveClients, err = m.Int64UpDownCounter("parrot.clients.active",
		metric.WithDescription("Connected hardware clients by kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ChunkSent records one delivered chunk of n bytes.
func (m *Metrics) ChunkSent(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.RelayChunks.Add(ctx, 1)
	m.RelayBytes.Add(ctx, int64(n))
}

// ClientEvicted records a hardware client dropped after a failed send.
func (m *Metrics) ClientEvicted(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.RelayEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// MicFrame records a microphone frame as dropped (gated) or forwarded.
func (m *Metrics) MicFrame(ctx context.Context, forwarded bool) {
	if m == nil {
		return
	}
	if forwarded {
		m.MicForwarded.Add(ctx, 1)
		return
	}
	m.MicDropped.Add(ctx, 1)
}

// SessionEvent records one inbound event of the given type.
func (m *Metrics) SessionEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.SessionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// SessionConnect records a connect attempt.
func (m *Metrics) SessionConnect(ctx context.Context, backend string, ok bool) {
	if m == nil {
		return
	}
	m.SessionConnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("result", result(ok)),
	))
}

// DeviceCommand records a controller command outcome.
func (m *Metrics) DeviceCommand(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.DeviceCommands.Add(ctx, 1, metric.WithAttributes(attribute.String("status", result(ok))))
}

// Handshake records a handshake attempt outcome.
func (m *Metrics) Handshake(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.Handshakes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result(ok))))
}

// BehaviorFired records an autonomous behavior firing.
func (m *Metrics) BehaviorFired(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.BehaviorsFired.Add(ctx, 1, metric.WithAttributes(attribute.String("name", name)))
}

// ClientDelta adjusts the active client gauge for the given kind.
func (m *Metrics) ClientDelta(ctx context.Context, kind string, delta int64) {
	if m == nil {
		return
	}
	m.ActiveClients.Add(ctx, delta, metric.WithAttributes(attribute.String("kind", kind)))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
