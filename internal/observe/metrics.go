// Package observe provides the server's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping via [InitProvider]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/rtvoice"

// Metrics holds all OpenTelemetry metric instruments for the server.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Worker latency histograms ---

	// STTDuration tracks input audio transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks the time from request to end of the model stream.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis time per response.
	TTSDuration metric.Float64Histogram

	// FirstDelta tracks the time from response.create (or turn end) to the
	// first output delta.
	FirstDelta metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts worker calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts worker failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Responses counts finished responses by terminal status.
	Responses metric.Int64Counter

	// ClientEvents counts accepted client events by type.
	ClientEvents metric.Int64Counter

	// ServerEvents counts server events sent by type.
	ServerEvents metric.Int64Counter

	// ProtocolErrors counts error events by error code.
	ProtocolErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live realtime sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks open WebSocket connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.Bool("websocket", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// realtime voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "rtvoice.stt.duration", "Latency of input audio transcription."},
		{&met.LLMDuration, "rtvoice.llm.duration", "Duration of the model stream per response."},
		{&met.TTSDuration, "rtvoice.tts.duration", "Duration of speech synthesis per response."},
		{&met.FirstDelta, "rtvoice.response.first_delta", "Time from response start to the first output delta."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "rtvoice.provider.requests", "Total worker requests by provider, kind, and status."},
		{&met.ProviderErrors, "rtvoice.provider.errors", "Total worker errors by provider and kind."},
		{&met.Responses, "rtvoice.responses", "Total finished responses by status."},
		{&met.ClientEvents, "rtvoice.client_events", "Total client events accepted by type."},
		{&met.ServerEvents, "rtvoice.server_events", "Total server events sent by type."},
		{&met.ProtocolErrors, "rtvoice.protocol_errors", "Total error events sent by code."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("rtvoice.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("rtvoice.active_connections",
		metric.WithDescription("Number of open WebSocket connections."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("rtvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route. WebSocket upgrades measure the connection lifetime."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a worker request with the standard attribute
// set. A nil receiver is a no-op, as for every Record method.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a worker failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordResponse records a finished response.
func (m *Metrics) RecordResponse(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Responses.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordClientEvent records an accepted client event.
func (m *Metrics) RecordClientEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.ClientEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordServerEvent records a sent server event.
func (m *Metrics) RecordServerEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.ServerEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordProtocolError records an error event.
func (m *Metrics) RecordProtocolError(ctx context.Context, code string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// Stage names accepted by [Metrics.RecordLatency].
const (
	StageSTT        = "stt"
	StageLLM        = "llm"
	StageTTS        = "tts"
	StageFirstDelta = "first_delta"
)

// RecordLatency records d on the histogram for stage. Unknown stages are
// ignored.
func (m *Metrics) RecordLatency(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	var h metric.Float64Histogram
	switch stage {
	case StageSTT:
		h = m.STTDuration
	case StageLLM:
		h = m.LLMDuration
	case StageTTS:
		h = m.TTSDuration
	case StageFirstDelta:
		h = m.FirstDelta
	default:
		return
	}
	h.Record(ctx, d.Seconds())
}

// AddSessions moves the live session gauge by delta.
func (m *Metrics) AddSessions(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, delta)
}

// AddConnections moves the open connection gauge by delta.
func (m *Metrics) AddConnections(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, delta)
}
