package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zubot/internal/central"
	"zubot/internal/config"
	"zubot/internal/dispatcher"
	"zubot/internal/eventbus"
	"zubot/internal/runner"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{}
	cfg.Defaults()
	cfg.Scheduler.DBPath = filepath.Join(dir, "http.db")
	cfg.Runner.Concurrency = 2

	log := logx.Nop()
	r := runner.New(dir, log)
	r.Register("echo-ok", func(ctx context.Context, task dispatcher.RunTask) dispatcher.Outcome {
		return dispatcher.Outcome{Status: store.RunDone, Summary: "ok"}
	})

	svc, err := central.New(context.Background(), cfg, log, eventbus.New(), r)
	if err != nil {
		t.Fatalf("central.New: %v", err)
	}
	svc.Start(context.Background())
	t.Cleanup(func() {
		svc.Stop(context.Background())
		_ = svc.Close()
	})
	return New(svc, log)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestTaskCRUDAndTrigger(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/central/tasks", map[string]any{
		"task_id": "echo", "kind": "agentic", "module": "echo-ok", "enabled": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("upsertTask: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodGet, "/api/central/tasks/echo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("getTask: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/central/trigger/echo", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("triggerTask: %d %s", rec.Code, rec.Body.String())
	}
	var triggerResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &triggerResp); err != nil {
		t.Fatalf("decode trigger response: %v", err)
	}
	if triggerResp["run_id"] == "" {
		t.Fatalf("expected a run_id in trigger response, got %v", triggerResp)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(t, s, http.MethodGet, "/api/central/runs", nil)
		if rec.Code == http.StatusOK && !strings.Contains(rec.Body.String(), `"active":null`) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/central/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("getStatus: %d %s", rec.Code, rec.Body.String())
	}
}

func TestTaskNotFoundReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/central/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSQLGatewayRejectsWriteWithoutOptOut(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/central/sql", map[string]any{
		"sql": "DELETE FROM task_profile",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected the write to be rejected as non-read-only, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSQLGatewayAllowsSelect(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/central/sql", map[string]any{
		"sql": "SELECT 1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("postSQL: %d %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok, _ := body["OK"].(bool); !ok {
		t.Fatalf("expected OK=true, got %v", body)
	}
}
