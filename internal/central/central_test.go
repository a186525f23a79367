package central

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zubot/internal/config"
	"zubot/internal/dispatcher"
	"zubot/internal/eventbus"
	"zubot/internal/runner"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

func newTestService(t *testing.T, register func(r *runner.Runner)) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{}
	cfg.Defaults()
	cfg.Scheduler.DBPath = filepath.Join(dir, "central.db")
	cfg.Runner.Concurrency = 2
	cfg.Runner.LogDir = dir

	log := logx.Nop()
	bus := eventbus.New()
	r := runner.New(dir, log)
	if register != nil {
		register(r)
	}

	svc, err := New(context.Background(), cfg, log, bus, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		svc.Stop(context.Background())
		_ = svc.Close()
	})
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestServiceRunsManualTriggerToCompletion exercises the full wiring
// (store -> dispatcher -> runner -> store) end to end.
func TestServiceRunsManualTriggerToCompletion(t *testing.T) {
	const module = "echo-ok"
	svc := newTestService(t, func(r *runner.Runner) {
		r.Register(module, func(ctx context.Context, task dispatcher.RunTask) dispatcher.Outcome {
			return dispatcher.Outcome{Status: store.RunDone, Summary: "ok"}
		})
	})
	ctx := context.Background()

	if err := svc.Store.UpsertTaskProfile(ctx, store.TaskProfile{
		TaskID: "echo", Kind: store.KindAgentic, Module: module, Enabled: true,
	}, time.Now()); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	runID, err := svc.Store.EnqueueRun(ctx, "echo", nil, nil, "{}", time.Now())
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, 3*time.Second, func() bool {
		hist, err := svc.Store.ListRunHistory(ctx, "echo", 10)
		if err != nil || len(hist) == 0 {
			return false
		}
		return hist[0].RunID == runID && hist[0].Status == store.RunDone
	})
}

// TestServiceInteractiveWaitThenResume covers S4: a task yields
// waiting_for_user, the resume request merges a user response, and the
// re-dispatched run completes.
func TestServiceInteractiveWaitThenResume(t *testing.T) {
	const module = "interactive-echo"
	svc := newTestService(t, func(r *runner.Runner) {
		r.Register(module, func(ctx context.Context, task dispatcher.RunTask) dispatcher.Outcome {
			env, ok := ParseInteractiveEnvelope(task.PayloadJSON)
			if ok && len(env.Response) > 0 {
				return dispatcher.Outcome{Status: store.RunDone, Summary: fmt.Sprintf("choice=%s", string(env.Response))}
			}
			fresh := InteractiveEnvelope{RequestID: "q1", Question: "pick one", ExpiresAt: time.Now().Add(time.Minute)}
			b, _ := json.Marshal(fresh)
			return dispatcher.Outcome{Status: store.RunWaitingForUser, Summary: string(b)}
		})
	})
	ctx := context.Background()

	if err := svc.Store.UpsertTaskProfile(ctx, store.TaskProfile{
		TaskID: "asker", Kind: store.KindInteractiveWrapper, Module: module, Enabled: true,
	}, time.Now()); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	runID, err := svc.Store.EnqueueRun(ctx, "asker", nil, nil, "{}", time.Now())
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, 3*time.Second, func() bool {
		r, err := svc.Store.GetRun(ctx, runID)
		return err == nil && r != nil && r.Status == store.RunWaitingForUser
	})

	run, err := svc.Store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	env, ok := ParseInteractiveEnvelope(run.Summary)
	if !ok {
		t.Fatalf("expected a parseable interactive envelope, got %q", run.Summary)
	}
	payload, err := env.WithResponse(json.RawMessage(`"a"`))
	if err != nil {
		t.Fatalf("WithResponse: %v", err)
	}
	resumed, err := svc.Store.ResumeWaitingRun(ctx, runID, payload, time.Now())
	if err != nil || !resumed {
		t.Fatalf("ResumeWaitingRun: ok=%v err=%v", resumed, err)
	}

	waitFor(t, 3*time.Second, func() bool {
		hist, err := svc.Store.ListRunHistory(ctx, "asker", 10)
		if err != nil || len(hist) == 0 {
			return false
		}
		return hist[0].Status == store.RunDone && hist[0].Summary == `choice="a"`
	})
}

// TestServiceKillRunningScript covers S6: killing a running script task
// terminates its process group and the run lands in blocked/killed.
func TestServiceKillRunningScript(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	scriptPath := filepath.Join(t.TempDir(), "sleep.sh")
	if err := os.WriteFile(scriptPath, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	if err := svc.Store.UpsertTaskProfile(ctx, store.TaskProfile{
		TaskID: "slow", Kind: store.KindScript, EntrypointPath: scriptPath, Enabled: true,
	}, time.Now()); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	runID, err := svc.Store.EnqueueRun(ctx, "slow", nil, nil, "{}", time.Now())
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, 3*time.Second, func() bool {
		r, err := svc.Store.GetRun(ctx, runID)
		return err == nil && r != nil && r.Status == store.RunRunning
	})

	if !svc.Dispatcher.Kill(runID) {
		t.Fatalf("expected Kill to find the in-flight run")
	}

	waitFor(t, 3*time.Second, func() bool {
		hist, err := svc.Store.ListRunHistory(ctx, "slow", 10)
		if err != nil || len(hist) == 0 {
			return false
		}
		return hist[0].Status == store.RunBlocked && hist[0].Error == store.ErrKilled
	})
}
