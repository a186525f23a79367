package providerqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	q := New()
	var attempts atomic.Int64

	res := q.Execute(context.Background(), "hn", GroupConfig{MaxRetries: 2, RetryBackoff: time.Millisecond},
		func(ctx context.Context) (any, error) {
			n := attempts.Add(1)
			if n < 3 {
				return nil, errors.New("rate limited")
			}
			return "ok", nil
		}, func(err error) bool { return true })

	if !res.OK || res.Value != "ok" || res.Attempt != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}

	stats := q.Stats("hn")
	if stats.CallsSuccess != 1 || stats.CallsTotal != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestExecuteStopsRetryingWhenNotRetryable(t *testing.T) {
	q := New()
	var attempts atomic.Int64

	res := q.Execute(context.Background(), "hn", GroupConfig{MaxRetries: 5},
		func(ctx context.Context) (any, error) {
			attempts.Add(1)
			return nil, errors.New("bad request")
		}, func(err error) bool { return false })

	if res.OK || res.Attempt != 1 {
		t.Fatalf("expected a single non-retried attempt, got %+v", res)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected fn called once, got %d", attempts.Load())
	}
}

func TestExecuteRetryBackoffIsLinearNotExponential(t *testing.T) {
	q := New()
	var attempts atomic.Int64
	base := 15 * time.Millisecond

	start := time.Now()
	res := q.Execute(context.Background(), "hn", GroupConfig{MaxRetries: 5, RetryBackoff: base},
		func(ctx context.Context) (any, error) {
			n := attempts.Add(1)
			if n < 6 {
				return nil, errors.New("rate limited")
			}
			return "ok", nil
		}, func(err error) bool { return true })
	elapsed := time.Since(start)

	if !res.OK || res.Attempt != 6 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Linear scaling over 5 retries: base*(1+2+3+4+5) = 15*base. Exponential
	// doubling (the regression this guards against) would instead sum to
	// base*(1+2+4+8+16) = 31*base for the same retry count.
	if elapsed > 20*base {
		t.Fatalf("expected linear backoff (~15x base = %v), took %v (exponential doubling regressed)", 15*base, elapsed)
	}
}

func TestExecuteEnforcesMinInterval(t *testing.T) {
	q := New()
	cfg := GroupConfig{MinInterval: 50 * time.Millisecond}

	start := time.Now()
	for i := 0; i < 3; i++ {
		res := q.Execute(context.Background(), "rss", cfg, func(ctx context.Context) (any, error) {
			return nil, nil
		}, nil)
		if !res.OK {
			t.Fatalf("call %d failed: %+v", i, res)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 90*time.Millisecond {
		t.Fatalf("expected at least ~2 min-interval waits (100ms), took %v", elapsed)
	}
}
