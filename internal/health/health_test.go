package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h http.HandlerFunc, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "postgres", Check: failWith("down")})
	code, body := serve(t, h.Healthz, context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("Healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "postgres", Check: ok}, {Name: "llm", Check: ok}},
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"postgres": "ok", "llm": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{Name: "postgres", Check: failWith("connection refused")}, {Name: "llm", Check: ok}},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "fail: connection refused", "llm": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{Name: "postgres", Check: failWith("timeout")}, {Name: "llm", Check: failWith("all circuits open")}},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "fail: timeout", "llm": "fail: all circuits open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, body := serve(t, New(tt.checkers...).Readyz, context.Background())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	var running atomic.Int32
	both := make(chan struct{})
	slow := func(ctx context.Context) error {
		if running.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	code, _ := serve(t, New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow}).Readyz, ctx)
	if code != http.StatusOK {
		t.Errorf("status = %d, checks did not overlap", code)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := serve(t, h.Readyz, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "postgres", Check: ok})
	h.SetDraining()

	code, body := serve(t, h.Readyz, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if _, found := body.Checks["shutdown"]; !found {
		t.Errorf("checks = %v, want shutdown entry", body.Checks)
	}
	if code, _ := serve(t, h.Healthz, context.Background()); code != http.StatusOK {
		t.Errorf("Healthz while draining = %d, want 200", code)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHelpers(t *testing.T) {
	t.Parallel()

	errDown := errors.New("down")
	if err := Ping("db", pinger{err: errDown}).Check(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Ping check = %v", err)
	}
	if err := Ping("db", pinger{}).Check(context.Background()); err != nil {
		t.Errorf("Ping check = %v", err)
	}
	if err := Func("llm", func() bool { return false }, errDown).Check(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Func check = %v", err)
	}
	if err := Func("llm", func() bool { return true }, errDown).Check(context.Background()); err != nil {
		t.Errorf("Func check = %v", err)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: ok}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}
