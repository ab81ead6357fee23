// Package observe provides the engine's observability surface: OpenTelemetry
// metric instruments, a Prometheus exporter bridge, and HTTP middleware.
//
// Metrics are recorded through the OTel Metrics API and scraped via the
// standard /metrics endpoint. A package-level default [Metrics] instance is
// provided for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all engine metrics.
const meterName = "github.com/dmforge/dmforge"

// Metrics holds the engine's metric instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// TurnDuration tracks full action-turn latency, LLM streaming included.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks the LLM streaming portion of a turn.
	LLMDuration metric.Float64Histogram

	// Turns counts completed turns. Attributes: status = ok|error|local.
	Turns metric.Int64Counter

	// TagApplications counts applied or refused tags. Attributes:
	// kind = roll|combat|..., status = applied|dropped|refused.
	TagApplications metric.Int64Counter

	// LLMRetries counts retried LLM streams.
	LLMRetries metric.Int64Counter

	// ActiveSessions tracks the number of live game sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency. Attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets covers both fast local endpoints and full LLM turns.
var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("dmforge.turn.duration",
		metric.WithDescription("Latency of one full action turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("dmforge.llm.duration",
		metric.WithDescription("Latency of the LLM stream within a turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("dmforge.turns",
		metric.WithDescription("Completed action turns by status."),
	); err != nil {
		return nil, err
	}
	if met.TagApplications, err = m.Int64Counter("dmforge.tags",
		metric.WithDescription("Tag applications by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.LLMRetries, err = m.Int64Counter("dmforge.llm.retries",
		metric.WithDescription("LLM streams retried after an initial failure."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("dmforge.active_sessions",
		metric.WithDescription("Number of live game sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("dmforge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordTurn increments the turn counter with a status attribute.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTag increments the tag counter with kind and status attributes.
func (m *Metrics) RecordTag(ctx context.Context, kind, status string) {
	m.TagApplications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}
