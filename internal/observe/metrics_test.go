package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// sumFor returns the total of an int64 sum metric, optionally filtered by one attribute.
func sumFor(rm metricdata.ResourceMetrics, name string, filter *attribute.KeyValue) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			var total int64
			for _, dp := range data.DataPoints {
				if filter != nil {
					v, ok := dp.Attributes.Value(filter.Key)
					if !ok || v != filter.Value {
						continue
					}
				}
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	m.ChunkSent(ctx, 1024)
	m.ClientEvicted(ctx, "speaker")
	m.MicFrame(ctx, true)
	m.SessionEvent(ctx, "audio")
	m.SessionConnect(ctx, "openai", true)
	m.DeviceCommand(ctx, false)
	m.Handshake(ctx, true)
	m.BehaviorFired(ctx, "joke")
	m.ClientDelta(ctx, "speaker", 1)
}

func TestRecording(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ChunkSent(ctx, 1024)
	m.ChunkSent(ctx, 512)
	m.ClientEvicted(ctx, "speaker")
	m.MicFrame(ctx, false)
	m.MicFrame(ctx, false)
	m.MicFrame(ctx, true)
	m.BehaviorFired(ctx, "joke")
	m.BehaviorFired(ctx, "joke")
	m.BehaviorFired(ctx, "sing")
	m.ClientDelta(ctx, "speaker", 1)
	m.ClientDelta(ctx, "speaker", 1)
	m.ClientDelta(ctx, "speaker", -1)

	rm := collect(t, reader)

	joke := attribute.String("name", "joke")
	tests := []struct {
		name   string
		filter *attribute.KeyValue
		want   int64
	}{
		{"parrot.relay.chunks", nil, 2},
		{"parrot.relay.bytes", nil, 1536},
		{"parrot.relay.evictions", nil, 1},
		{"parrot.relay.mic_dropped", nil, 2},
		{"parrot.relay.mic_forwarded", nil, 1},
		{"parrot.behavior.fired", nil, 3},
		{"parrot.behavior.fired", &joke, 2},
		{"parrot.clients.active", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sumFor(rm, tt.name, tt.filter)
			if !ok {
				t.Fatalf("metric %s not found", tt.name)
			}
			if got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestInitProvider(t *testing.T) {
	met, shutdown, err := InitProvider("1.2.3")
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	met.BehaviorFired(context.Background(), "squawk")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{"parrot_behavior_fired", `name="squawk"`, `service_version="1.2.3"`} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape does not contain %s", want)
		}
	}
}
