// Package observe holds the service's telemetry: OpenTelemetry metrics
// exported to Prometheus, tracing with log correlation, and the HTTP
// middleware that ties both to requests.
//
// Production code records through [DefaultMetrics]. Tests build their own
// instance with [NewMetrics] on a private meter provider.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/mockinterview"

// Metrics is the set of instruments the service records. Prefer the Record*
// helpers, which keep attribute sets consistent.
type Metrics struct {
	// Calls.
	CallsStarted      metric.Int64Counter       // mode, status
	CallsFinished     metric.Int64Counter       // mode, reason
	CallStartDuration metric.Float64Histogram   // mode
	CallDuration      metric.Float64Histogram   // mode
	ActiveSessions    metric.Int64UpDownCounter // calls between accepted start and Finished
	TranscriptEntries metric.Int64Counter       // role

	// Feedback.
	Syntheses         metric.Int64Counter     // status
	SynthesisDuration metric.Float64Histogram // status

	// Providers and tools.
	ProviderRequests metric.Int64Counter     // provider, kind, status
	ProviderErrors   metric.Int64Counter     // provider, kind
	ProviderDuration metric.Float64Histogram // provider, kind
	ToolCalls        metric.Int64Counter     // tool, status

	// HTTP.
	HTTPRequestDuration metric.Float64Histogram // route, status_class
}

var (
	requestBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	callBuckets    = []float64{10, 30, 60, 120, 300, 600, 900, 1200, 1800, 3600}
)

// instruments collects creation errors so NewMetrics can report all of them.
type instruments struct {
	m    metric.Meter
	errs []error
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

func (in *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := in.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	in.errs = append(in.errs, err)
	return h
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		CallsStarted:      in.counter("mockinterview.calls.started", "Call start attempts by mode and status."),
		CallsFinished:     in.counter("mockinterview.calls.finished", "Finished calls by mode and reason."),
		CallStartDuration: in.seconds("mockinterview.call.start.duration", "Time for the voice engine to accept a call.", requestBuckets),
		CallDuration:      in.seconds("mockinterview.call.duration", "Length of calls from start request to Finished.", callBuckets),
		TranscriptEntries: in.counter("mockinterview.transcript.entries", "Finalized utterances by role."),

		Syntheses:         in.counter("mockinterview.feedback.syntheses", "Feedback synthesis outcomes by status."),
		SynthesisDuration: in.seconds("mockinterview.feedback.synthesis.duration", "Feedback generation plus persistence time.", requestBuckets),

		ProviderRequests: in.counter("mockinterview.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   in.counter("mockinterview.provider.errors", "Failed provider calls by provider and kind."),
		ProviderDuration: in.seconds("mockinterview.provider.duration", "Provider call latency by provider and kind.", requestBuckets),
		ToolCalls:        in.counter("mockinterview.tool.calls", "Agent tool invocations by tool and status."),

		HTTPRequestDuration: in.seconds("mockinterview.http.request.duration", "HTTP request latency by route and status class.", requestBuckets),
	}
	var err error
	met.ActiveSessions, err = in.m.Int64UpDownCounter("mockinterview.active_sessions",
		metric.WithDescription("Sessions with a call in progress."))
	in.errs = append(in.errs, err)

	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instance on the global meter
// provider, creating it on first use. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue { return attribute.String(key, value) }

func attrs(kv ...attribute.KeyValue) metric.MeasurementOption { return metric.WithAttributes(kv...) }

// RecordCallStart records a start attempt. An "ok" status also counts the
// session as active.
func (m *Metrics) RecordCallStart(ctx context.Context, mode, status string, seconds float64) {
	m.CallsStarted.Add(ctx, 1, attrs(Attr("mode", mode), Attr("status", status)))
	m.CallStartDuration.Record(ctx, seconds, attrs(Attr("mode", mode)))
	if status == "ok" {
		m.ActiveSessions.Add(ctx, 1)
	}
}

// RecordCallFinished records a call reaching Finished and releases its active slot.
func (m *Metrics) RecordCallFinished(ctx context.Context, mode, reason string, seconds float64) {
	m.CallsFinished.Add(ctx, 1, attrs(Attr("mode", mode), Attr("reason", reason)))
	m.CallDuration.Record(ctx, seconds, attrs(Attr("mode", mode)))
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) RecordTranscriptEntry(ctx context.Context, role string) {
	m.TranscriptEntries.Add(ctx, 1, attrs(Attr("role", role)))
}

func (m *Metrics) RecordSynthesis(ctx context.Context, status string, seconds float64) {
	m.Syntheses.Add(ctx, 1, attrs(Attr("status", status)))
	m.SynthesisDuration.Record(ctx, seconds, attrs(Attr("status", status)))
}

// RecordProviderCall records one provider attempt. Any status other than
// "ok" also counts as a provider error.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, kind, status string, seconds float64) {
	who := []attribute.KeyValue{Attr("provider", provider), Attr("kind", kind)}
	m.ProviderRequests.Add(ctx, 1, attrs(append(who, Attr("status", status))...))
	m.ProviderDuration.Record(ctx, seconds, attrs(who...))
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, attrs(who...))
	}
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, attrs(Attr("tool", tool), Attr("status", status)))
}
