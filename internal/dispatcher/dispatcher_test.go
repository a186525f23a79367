package dispatcher

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"zubot/internal/eventbus"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

type fakeRunner struct {
	calls   atomic.Int64
	outcome Outcome
	delay   time.Duration
}

func (f *fakeRunner) Execute(ctx context.Context, task RunTask) Outcome {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Outcome{Status: store.RunBlocked, Error: store.ErrKilled}
		}
	}
	return f.outcome
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "d.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDispatcherRunsQueuedTaskToCompletion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.UpsertTaskProfile(ctx, store.TaskProfile{TaskID: "digest", Kind: store.KindScript}, now); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	if _, err := st.EnqueueRun(ctx, "digest", nil, nil, "", now); err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	runner := &fakeRunner{outcome: Outcome{Status: store.RunDone, Summary: "ok"}}
	d := New(Config{Concurrency: 2, PollInterval: 10 * time.Millisecond}, st, runner, eventbus.New(), logx.Nop())

	runCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() { _ = d.Run(runCtx); close(done) }()

	deadline := time.Now().Add(1500 * time.Millisecond)
	for time.Now().Before(deadline) {
		hist, err := st.ListRunHistory(ctx, "digest", 10)
		if err != nil {
			t.Fatalf("ListRunHistory: %v", err)
		}
		if len(hist) == 1 && hist[0].Status == store.RunDone {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
	t.Fatalf("expected run to complete and archive within the deadline")
}

func TestDispatcherEnforcesNoOverlapAcrossQueuedRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := st.UpsertTaskProfile(ctx, store.TaskProfile{TaskID: "digest", Kind: store.KindScript}, now); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	if _, err := st.EnqueueRun(ctx, "digest", nil, nil, "", now); err != nil {
		t.Fatalf("EnqueueRun a: %v", err)
	}
	if _, err := st.EnqueueRun(ctx, "digest", nil, nil, "", now.Add(time.Millisecond)); err != nil {
		t.Fatalf("EnqueueRun b: %v", err)
	}

	runner := &fakeRunner{outcome: Outcome{Status: store.RunDone}, delay: 200 * time.Millisecond}
	d := New(Config{Concurrency: 4, PollInterval: 10 * time.Millisecond}, st, runner, eventbus.New(), logx.Nop())

	runCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	_ = d.Run(runCtx)
	cancel()

	if n := runner.calls.Load(); n != 1 {
		t.Fatalf("expected exactly 1 run started while the other stays queued behind no-overlap, got %d", n)
	}
}
