package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/mockinterview/internal/observe"
)

func testConfig(t *testing.T) (FallbackConfig, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return FallbackConfig{
		Kind:           "test",
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		Metrics:        m,
	}, reader
}

type named string

func TestCall_PrimarySuccess(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	fg := NewFallbackGroup(named("a"), "a", cfg)
	fg.AddFallback("b", named("b"))

	var tried []named
	got, err := Call(context.Background(), fg, func(_ context.Context, n named) (string, error) {
		tried = append(tried, n)
		return string(n), nil
	})
	if err != nil || got != "a" {
		t.Fatalf("Call = %q, %v", got, err)
	}
	if len(tried) != 1 {
		t.Errorf("tried %v, want only primary", tried)
	}
}

func TestCall_Failover(t *testing.T) {
	t.Parallel()

	cfg, reader := testConfig(t)
	fg := NewFallbackGroup(named("a"), "a", cfg)
	fg.AddFallback("b", named("b"))

	fn := func(_ context.Context, n named) (string, error) {
		if n == "a" {
			return "", errors.New("a down")
		}
		return string(n), nil
	}
	got, err := Call(context.Background(), fg, fn)
	if err != nil || got != "b" {
		t.Fatalf("Call = %q, %v", got, err)
	}

	status := fg.Status()
	if status[0].State != "open" || status[1].State != "closed" {
		t.Errorf("Status() = %+v", status)
	}

	var tried []named
	_, _ = Call(context.Background(), fg, func(ctx context.Context, n named) (string, error) {
		tried = append(tried, n)
		return fn(ctx, n)
	})
	if len(tried) != 1 || tried[0] != "b" {
		t.Errorf("open primary was not skipped: tried %v", tried)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == "mockinterview.provider.errors" {
				found = true
			}
		}
	}
	if !found {
		t.Error("provider error not recorded")
	}
}

func TestCall_AllFail(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	fg := NewFallbackGroup(named("a"), "a", cfg)
	fg.AddFallback("b", named("b"))

	errB := errors.New("b down")
	_, err := Call(context.Background(), fg, func(_ context.Context, n named) (int, error) {
		if n == "a" {
			return 0, errors.New("a down")
		}
		return 0, errB
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errB) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping member errors", err)
	}
	if !strings.Contains(err.Error(), "a: a down") {
		t.Errorf("err = %q, want member names", err)
	}
	if fg.Healthy() {
		t.Error("Healthy() = true with every breaker open")
	}
}

func TestCall_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg, _ := testConfig(t)
	fg := NewFallbackGroup(named("a"), "a", cfg)
	fg.AddFallback("b", named("b"))

	ctx, cancel := context.WithCancel(context.Background())
	var tried []named
	_, err := Call(ctx, fg, func(ctx context.Context, n named) (string, error) {
		tried = append(tried, n)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried %v after cancellation", tried)
	}
	if !fg.Healthy() || fg.Status()[0].State != "closed" {
		t.Errorf("cancellation tripped a breaker: %+v", fg.Status())
	}
}
