package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zubot/internal/dispatcher"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "task.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecuteScriptSuccess(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo hello\n")

	r := New(dir, logx.Nop())
	out := r.Execute(context.Background(), dispatcher.RunTask{Kind: store.KindScript, Entrypoint: script, RunID: "run-success"})
	if out.Status != store.RunDone {
		t.Fatalf("expected RunDone, got %+v", out)
	}
	if out.Summary != "hello" {
		t.Fatalf("expected summary %q, got %q", "hello", out.Summary)
	}

	logged, err := os.ReadFile(filepath.Join(dir, "run-success.log"))
	if err != nil {
		t.Fatalf("expected a per-run log file: %v", err)
	}
	if string(logged) != "hello\n" {
		t.Fatalf("expected log file to contain stdout, got %q", logged)
	}
}

func TestExecuteScriptSetsPayloadEnv(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo \"$ZUBOT_RUN_PAYLOAD\"\n")

	r := New(dir, logx.Nop())
	out := r.Execute(context.Background(), dispatcher.RunTask{
		Kind: store.KindScript, Entrypoint: script, RunID: "run-payload",
		PayloadJSON: `{"key":"value"}`,
	})
	if out.Status != store.RunDone {
		t.Fatalf("expected RunDone, got %+v", out)
	}
	if out.Summary != `{"key":"value"}` {
		t.Fatalf("expected ZUBOT_RUN_PAYLOAD in script output, got %q", out.Summary)
	}
}

func TestExecuteScriptFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "echo boom 1>&2\nexit 1\n")

	r := New(dir, logx.Nop())
	out := r.Execute(context.Background(), dispatcher.RunTask{Kind: store.KindScript, Entrypoint: script})
	if out.Status != store.RunFailed {
		t.Fatalf("expected RunFailed, got %+v", out)
	}
	if out.Error != "boom" {
		t.Fatalf("expected error %q, got %q", "boom", out.Error)
	}
}

func TestExecuteScriptKilledOnCancel(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep 5\n")

	r := New(dir, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := r.Execute(ctx, dispatcher.RunTask{Kind: store.KindScript, Entrypoint: script})
	if out.Status != store.RunBlocked || out.Error != store.ErrTimeout {
		t.Fatalf("expected blocked/timeout outcome, got %+v", out)
	}
}

func TestExecuteScriptKilledOnExplicitCancel(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep 5\n")

	r := New(dir, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	out := r.Execute(ctx, dispatcher.RunTask{Kind: store.KindScript, Entrypoint: script})
	if out.Status != store.RunBlocked || out.Error != store.ErrKilled {
		t.Fatalf("expected blocked/killed outcome, got %+v", out)
	}
}

func TestExecuteScriptReceivesSIGTERMBeforeKill(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "sigterm.marker")
	script := writeScript(t, dir, "trap 'touch "+marker+"; exit 0' TERM\nsleep 5\n")

	r := New(dir, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	out := r.Execute(ctx, dispatcher.RunTask{Kind: store.KindScript, Entrypoint: script})
	if out.Status != store.RunBlocked || out.Error != store.ErrTimeout {
		t.Fatalf("expected blocked/timeout outcome, got %+v", out)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected the script's SIGTERM trap to run before the teardown budget forced SIGKILL: %v", err)
	}
}

func TestExecuteRegisteredAgenticTask(t *testing.T) {
	r := New(t.TempDir(), logx.Nop())
	r.Register("digest_module", func(ctx context.Context, task dispatcher.RunTask) dispatcher.Outcome {
		return dispatcher.Outcome{Status: store.RunDone, Summary: "processed " + task.RunID}
	})

	out := r.Execute(context.Background(), dispatcher.RunTask{Kind: store.KindAgentic, Module: "digest_module", RunID: "r1"})
	if out.Status != store.RunDone || out.Summary != "processed r1" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}
