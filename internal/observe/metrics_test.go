package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

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

// snapshot indexes one collection by metric name.
type snapshot map[string]metricdata.Aggregation

func collect(t *testing.T, reader *sdkmetric.ManualReader) snapshot {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := snapshot{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

// sum adds up the points of an int64 sum whose attributes include every
// key/value pair in match.
func (s snapshot) sum(t *testing.T, name string, match ...string) int64 {
	t.Helper()
	data, ok := s[name].(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: got %T, want int64 sum", name, s[name])
	}
	var total int64
	for _, dp := range data.DataPoints {
		if hasAttrs(dp.Attributes.ToSlice(), match) {
			total += dp.Value
		}
	}
	return total
}

// count returns the total number of observations in a histogram.
func (s snapshot) count(t *testing.T, name string, match ...string) uint64 {
	t.Helper()
	data, ok := s[name].(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s: got %T, want float64 histogram", name, s[name])
	}
	var total uint64
	for _, dp := range data.DataPoints {
		if hasAttrs(dp.Attributes.ToSlice(), match) {
			total += dp.Count
		}
	}
	return total
}

func hasAttrs(kvs []attribute.KeyValue, match []string) bool {
	for i := 0; i+1 < len(match); i += 2 {
		found := false
		for _, kv := range kvs {
			if string(kv.Key) == match[i] && kv.Value.AsString() == match[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestRecordCallLifecycle(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCallStart(ctx, "interview", "ok", 0.4)
	m.RecordCallStart(ctx, "interview", "ok", 0.6)
	m.RecordCallStart(ctx, "generate", "error", 1.2)
	m.RecordCallFinished(ctx, "interview", "remote_termination", 240)

	s := collect(t, reader)
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"started ok", s.sum(t, "mockinterview.calls.started", "status", "ok"), 2},
		{"started error", s.sum(t, "mockinterview.calls.started", "status", "error", "mode", "generate"), 1},
		{"finished", s.sum(t, "mockinterview.calls.finished", "reason", "remote_termination"), 1},
		{"active", s.sum(t, "mockinterview.active_sessions"), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if n := s.count(t, "mockinterview.call.start.duration", "mode", "interview"); n != 2 {
		t.Errorf("interview start observations = %d, want 2", n)
	}
	if n := s.count(t, "mockinterview.call.duration"); n != 1 {
		t.Errorf("call duration observations = %d, want 1", n)
	}
}

func TestRecordTranscriptAndSynthesis(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscriptEntry(ctx, "candidate")
	m.RecordTranscriptEntry(ctx, "candidate")
	m.RecordTranscriptEntry(ctx, "agent")
	m.RecordSynthesis(ctx, "ok", 3.2)
	m.RecordSynthesis(ctx, "generation_failure", 1.1)

	s := collect(t, reader)
	if got := s.sum(t, "mockinterview.transcript.entries", "role", "candidate"); got != 2 {
		t.Errorf("candidate entries = %d, want 2", got)
	}
	if got := s.sum(t, "mockinterview.feedback.syntheses", "status", "generation_failure"); got != 1 {
		t.Errorf("failed syntheses = %d, want 1", got)
	}
	if n := s.count(t, "mockinterview.feedback.synthesis.duration"); n != 2 {
		t.Errorf("synthesis observations = %d, want 2", n)
	}
}

func TestRecordProviderCall(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderCall(ctx, "openai", "llm", "ok", 0.8)
	m.RecordProviderCall(ctx, "openai", "llm", "ok", 1.1)
	m.RecordProviderCall(ctx, "anthropic", "llm", "error", 0.2)

	s := collect(t, reader)
	if got := s.sum(t, "mockinterview.provider.requests", "provider", "openai", "status", "ok"); got != 2 {
		t.Errorf("openai ok = %d, want 2", got)
	}
	if got := s.sum(t, "mockinterview.provider.errors"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
	if got := s.sum(t, "mockinterview.provider.errors", "provider", "anthropic"); got != 1 {
		t.Errorf("anthropic errors = %d, want 1", got)
	}
	if n := s.count(t, "mockinterview.provider.duration", "kind", "llm"); n != 3 {
		t.Errorf("latency observations = %d, want 3", n)
	}
}

func TestRecordToolCall(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)

	m.RecordToolCall(context.Background(), "generate_interview", "ok")
	m.RecordToolCall(context.Background(), "generate_interview", "error")

	s := collect(t, reader)
	if got := s.sum(t, "mockinterview.tool.calls", "tool", "generate_interview"); got != 2 {
		t.Errorf("tool calls = %d, want 2", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
