// Package providerqueue serializes calls into rate-limited external
// providers: one FIFO lane per named group, spaced by a minimum interval
// plus jitter, with linear-backoff retry and observable counters.
package providerqueue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// GroupConfig is the per-provider-group policy, sourced from
// config.ProviderQueueConfig entries.
type GroupConfig struct {
	MinInterval  time.Duration
	Jitter       time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// CallFunc performs one provider call.
type CallFunc func(ctx context.Context) (any, error)

// IsRetryableFunc decides whether a failed call should be retried.
type IsRetryableFunc func(error) bool

// Result is the outcome of Execute.
type Result struct {
	OK      bool
	Value   any
	Error   string
	Group   string
	WaitSec float64
	Attempt int
}

// Stats mirrors the original implementation's provider_queue_stats shape.
type Stats struct {
	Group        string
	Pending      int
	InFlight     bool
	CallsTotal   int64
	CallsSuccess int64
	CallsFailed  int64
	LastError    string
	WaitSecLast  float64
	WaitSecMax   float64
	WaitSecAvg   float64
}

type group struct {
	name    string
	limiter *rate.Limiter
	lock    sync.Mutex // serializes execution within the group, FIFO by acquisition order

	mu           sync.Mutex
	pending      int
	inFlight     bool
	callsTotal   int64
	callsSuccess int64
	callsFailed  int64
	lastError    string
	waitSecLast  float64
	waitSecMax   float64
	waitSecTotal float64
}

func newGroup(name string, minInterval time.Duration) *group {
	var lim *rate.Limiter
	if minInterval > 0 {
		lim = rate.NewLimiter(rate.Every(minInterval), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	return &group{name: name, limiter: lim}
}

// Queue owns every provider group's rate limiter and call statistics.
type Queue struct {
	mu     sync.Mutex
	groups map[string]*group
	rng    *rand.Rand
	rngMu  sync.Mutex
}

// New creates an empty Queue. Groups are created lazily on first use.
func New() *Queue {
	return &Queue{
		groups: make(map[string]*group),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (q *Queue) groupFor(name string, cfg GroupConfig) *group {
	q.mu.Lock()
	defer q.mu.Unlock()
	g, ok := q.groups[name]
	if !ok {
		g = newGroup(name, cfg.MinInterval)
		q.groups[name] = g
	}
	return g
}

// Stats returns a snapshot for group `name`, or a zero-value Stats if the
// group has never been used.
func (q *Queue) Stats(name string) Stats {
	q.mu.Lock()
	g, ok := q.groups[name]
	q.mu.Unlock()
	if !ok {
		return Stats{Group: name}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	avg := 0.0
	if g.callsTotal > 0 {
		avg = g.waitSecTotal / float64(g.callsTotal)
	}
	return Stats{
		Group:        name,
		Pending:      g.pending,
		InFlight:     g.inFlight,
		CallsTotal:   g.callsTotal,
		CallsSuccess: g.callsSuccess,
		CallsFailed:  g.callsFailed,
		LastError:    g.lastError,
		WaitSecLast:  g.waitSecLast,
		WaitSecMax:   g.waitSecMax,
		WaitSecAvg:   avg,
	}
}

// Execute runs fn through group `name`'s FIFO lane, applying min-interval
// spacing, jitter, and retry-with-backoff per cfg.
func (q *Queue) Execute(ctx context.Context, name string, cfg GroupConfig, fn CallFunc, isRetryable IsRetryableFunc) Result {
	g := q.groupFor(name, cfg)

	startedWait := time.Now()
	g.mu.Lock()
	g.pending++
	g.mu.Unlock()

	g.lock.Lock()
	defer g.lock.Unlock()

	g.mu.Lock()
	g.pending--
	if g.pending < 0 {
		g.pending = 0
	}
	g.inFlight = true
	g.callsTotal++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight = false
		g.mu.Unlock()
	}()

	if err := g.limiter.WaitN(ctx, 1); err != nil {
		return Result{OK: false, Error: fmt.Sprintf("rate limiter: %v", err), Group: name}
	}
	if cfg.Jitter > 0 {
		q.rngMu.Lock()
		j := time.Duration(q.rng.Int63n(int64(cfg.Jitter) + 1))
		q.rngMu.Unlock()
		select {
		case <-time.After(j):
		case <-ctx.Done():
			return Result{OK: false, Error: ctx.Err().Error(), Group: name}
		}
	}

	waitSec := time.Since(startedWait).Seconds()
	g.mu.Lock()
	g.waitSecLast = waitSec
	g.waitSecTotal += waitSec
	if waitSec > g.waitSecMax {
		g.waitSecMax = waitSec
	}
	g.mu.Unlock()

	attempt := 0
	for {
		value, err := fn(ctx)
		if err == nil {
			g.mu.Lock()
			g.callsSuccess++
			g.lastError = ""
			g.mu.Unlock()
			return Result{OK: true, Value: value, Group: name, WaitSec: waitSec, Attempt: attempt + 1}
		}

		shouldRetry := attempt < cfg.MaxRetries
		if shouldRetry && isRetryable != nil {
			shouldRetry = isRetryable(err)
		}
		if !shouldRetry {
			g.mu.Lock()
			g.callsFailed++
			g.lastError = err.Error()
			g.mu.Unlock()
			return Result{OK: false, Error: err.Error(), Group: name, WaitSec: waitSec, Attempt: attempt + 1}
		}

		if cfg.RetryBackoff > 0 {
			delay := cfg.RetryBackoff * time.Duration(attempt+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				g.mu.Lock()
				g.callsFailed++
				g.lastError = ctx.Err().Error()
				g.mu.Unlock()
				return Result{OK: false, Error: ctx.Err().Error(), Group: name, WaitSec: waitSec, Attempt: attempt + 1}
			}
		}
		attempt++
	}
}
