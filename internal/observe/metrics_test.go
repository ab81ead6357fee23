package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

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

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.TurnDuration == nil || m.Turns == nil || m.ActiveSessions == nil {
		t.Fatal("instruments missing")
	}
}

func TestCountersRecord(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "ok")
	m.RecordTurn(ctx, "ok")
	m.RecordTag(ctx, "roll", "applied")
	m.ActiveSessions.Add(ctx, 1)

	rm := collect(t, reader)
	for _, name := range []string{"dmforge.turns", "dmforge.tags", "dmforge.active_sessions"} {
		if findMetric(rm, name) == nil {
			t.Errorf("metric %q not collected", name)
		}
	}

	turns := findMetric(rm, "dmforge.turns")
	sum, ok := turns.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("turns data type %T", turns.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("turn count = %d, want 2", total)
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}

	rm := collect(t, reader)
	if findMetric(rm, "dmforge.http.request.duration") == nil {
		t.Error("request duration not recorded")
	}
}
