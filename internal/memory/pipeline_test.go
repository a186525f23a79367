package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "mem.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestIngestQueuesJobAtThreshold(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Config{RealtimeSummaryTurnThreshold: 3}, st, ConcatSummarizer{}, logx.Nop())

	for i := 0; i < 3; i++ {
		if err := p.Ingest(ctx, "2026-08-06", "s1", store.EventKindUser, "hello"); err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
	}

	job, err := st.ClaimNextSummaryJob(ctx, time.Now())
	if err != nil {
		t.Fatalf("ClaimNextSummaryJob: %v", err)
	}
	if job == nil || job.Day != "2026-08-06" {
		t.Fatalf("expected a queued summary job, got %+v", job)
	}
}

func TestRunJobProducesSummaryAndFinalizes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	p := New(Config{}, st, ConcatSummarizer{}, logx.Nop())

	for i := 0; i < 2; i++ {
		if err := p.Ingest(ctx, "2026-08-05", "s1", store.EventKindUser, "message"); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	if _, _, err := st.EnqueueSummaryJob(ctx, "2026-08-05", "finalize", time.Now()); err != nil {
		t.Fatalf("EnqueueSummaryJob: %v", err)
	}

	p.drainOnce(ctx)

	summary, err := st.GetDaySummary(ctx, "2026-08-05")
	if err != nil {
		t.Fatalf("GetDaySummary: %v", err)
	}
	if summary == nil || summary.Text == "" {
		t.Fatalf("expected a materialized day summary, got %+v", summary)
	}

	status, err := st.GetDayStatus(ctx, "2026-08-05")
	if err != nil {
		t.Fatalf("GetDayStatus: %v", err)
	}
	if !status.IsFinalized {
		t.Fatalf("expected day to be finalized after a finalize-reason job")
	}
}

func TestSweepUnfinalizedQueuesOnlyPastDays(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	fixedNow := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	p := New(Config{}, st, ConcatSummarizer{}, logx.Nop())
	p.nowFunc = func() time.Time { return fixedNow }

	if err := p.Ingest(ctx, "2026-08-04", "s1", store.EventKindUser, "old day"); err != nil {
		t.Fatalf("Ingest old: %v", err)
	}
	if err := p.Ingest(ctx, "2026-08-06", "s1", store.EventKindUser, "today"); err != nil {
		t.Fatalf("Ingest today: %v", err)
	}

	queued, err := p.SweepUnfinalized(ctx)
	if err != nil {
		t.Fatalf("SweepUnfinalized: %v", err)
	}
	if queued != 1 {
		t.Fatalf("expected exactly 1 day queued (only the past, unfinalized one), got %d", queued)
	}
}
