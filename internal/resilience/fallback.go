package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mockinterview/internal/observe"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// Kind labels the provider category in metrics (e.g. "llm").
	Kind string

	// CircuitBreaker is the template for each member's breaker. Name is
	// overwritten with the member name.
	CircuitBreaker CircuitBreakerConfig

	// Metrics receives per-attempt request and error counts. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// MemberStatus is the breaker state of one group member.
type MemberStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// FallbackGroup holds a primary and zero or more fallbacks of the same
// provider type, each behind its own [CircuitBreaker].
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	members []*member[T]
}

// NewFallbackGroup creates a group with primary as the first member.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a member. Members are tried in the order added.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.mu.Lock()
	defer fg.mu.Unlock()
	fg.members = append(fg.members, &member[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)})
}

// Primary returns the first member.
func (fg *FallbackGroup[T]) Primary() T {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	return fg.members[0].value
}

// Status reports each member's breaker state in try order.
func (fg *FallbackGroup[T]) Status() []MemberStatus {
	fg.mu.RLock()
	defer fg.mu.RUnlock()
	out := make([]MemberStatus, len(fg.members))
	for i, m := range fg.members {
		out[i] = MemberStatus{Name: m.name, State: m.breaker.State().String()}
	}
	return out
}

// Healthy reports whether at least one member's breaker admits calls.
func (fg *FallbackGroup[T]) Healthy() bool {
	for _, s := range fg.Status() {
		if s.State != StateOpen.String() {
			return true
		}
	}
	return false
}

// Call runs fn against each member in order until one succeeds. Members with
// an open breaker are skipped. If ctx ends, Call stops immediately and
// returns the context error. When every member fails the error wraps
// [ErrAllFailed] and each member's error.
func Call[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	fg.mu.RLock()
	members := append([]*member[T](nil), fg.members...)
	fg.mu.RUnlock()

	var (
		zero R
		errs []error
	)
	for _, m := range members {
		var result R
		start := time.Now()
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			result, callErr = fn(ctx, m.value)
			return callErr
		})
		elapsed := time.Since(start).Seconds()
		switch {
		case err == nil:
			fg.cfg.Metrics.RecordProviderCall(ctx, m.name, fg.cfg.Kind, "ok", elapsed)
			return result, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping provider, circuit open", "provider", m.name, "kind", fg.cfg.Kind)
		case ctx.Err() != nil:
			return zero, fmt.Errorf("%s %s: %w", fg.cfg.Kind, m.name, ctx.Err())
		default:
			fg.cfg.Metrics.RecordProviderCall(ctx, m.name, fg.cfg.Kind, "error", elapsed)
			slog.Warn("provider failed, trying next", "provider", m.name, "kind", fg.cfg.Kind, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
