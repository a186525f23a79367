package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "zubot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), Config{Path: filepath.Join(dir, "zubot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustProfile(t *testing.T, s *Store, taskID string) {
	t.Helper()
	if err := s.UpsertTaskProfile(context.Background(), TaskProfile{
		TaskID: taskID,
		Kind:   KindScript,
	}, time.Now()); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
}

func TestUpsertAndGetTaskProfile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustProfile(t, s, "digest")

	got, err := s.GetTaskProfile(ctx, "digest")
	if err != nil {
		t.Fatalf("GetTaskProfile: %v", err)
	}
	if got.Kind != KindScript {
		t.Fatalf("expected kind %q, got %q", KindScript, got.Kind)
	}
}

func TestClaimRunEnforcesNoOverlap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustProfile(t, s, "digest")
	now := time.Now()

	runA, err := s.EnqueueRun(ctx, "digest", nil, nil, "", now)
	if err != nil {
		t.Fatalf("EnqueueRun a: %v", err)
	}
	runB, err := s.EnqueueRun(ctx, "digest", nil, nil, "", now.Add(time.Second))
	if err != nil {
		t.Fatalf("EnqueueRun b: %v", err)
	}

	claimedA, err := s.ClaimRun(ctx, runA, now)
	if err != nil {
		t.Fatalf("ClaimRun a: %v", err)
	}
	if !claimedA {
		t.Fatalf("expected first claim to succeed")
	}

	claimedB, err := s.ClaimRun(ctx, runB, now)
	if err != nil {
		t.Fatalf("ClaimRun b: %v", err)
	}
	if claimedB {
		t.Fatalf("expected second claim to lose the no-overlap race")
	}

	run, err := s.GetRun(ctx, runB)
	if err != nil {
		t.Fatalf("GetRun b: %v", err)
	}
	if run.Status != RunQueued {
		t.Fatalf("expected losing run to stay queued, got %q", run.Status)
	}
}

func TestArchiveToHistoryMovesTerminalRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustProfile(t, s, "digest")
	now := time.Now()

	runID, err := s.EnqueueRun(ctx, "digest", nil, nil, "", now)
	if err != nil {
		t.Fatalf("EnqueueRun: %v", err)
	}
	if ok, err := s.ClaimRun(ctx, runID, now); err != nil || !ok {
		t.Fatalf("ClaimRun: ok=%v err=%v", ok, err)
	}
	finished := now.Add(time.Minute)
	if err := s.TransitionRun(ctx, runID, RunDone, "ok", "", &finished); err != nil {
		t.Fatalf("TransitionRun: %v", err)
	}
	if err := s.ArchiveToHistory(ctx, runID); err != nil {
		t.Fatalf("ArchiveToHistory: %v", err)
	}

	if _, err := s.GetRun(ctx, runID); err == nil {
		t.Fatalf("expected run to be gone from the live table")
	}

	hist, err := s.ListRunHistory(ctx, "digest", 10)
	if err != nil {
		t.Fatalf("ListRunHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].RunID != runID {
		t.Fatalf("expected archived run in history, got %+v", hist)
	}
}

func TestEnqueueSummaryJobDedupesPerDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, ok1, err := s.EnqueueSummaryJob(ctx, "2026-08-06", "threshold", now)
	if err != nil {
		t.Fatalf("EnqueueSummaryJob first: %v", err)
	}
	if !ok1 {
		t.Fatalf("expected first enqueue to succeed")
	}

	_, ok2, err := s.EnqueueSummaryJob(ctx, "2026-08-06", "threshold", now)
	if err != nil {
		t.Fatalf("EnqueueSummaryJob second: %v", err)
	}
	if ok2 {
		t.Fatalf("expected second enqueue for the same day to be deduped")
	}
}

func TestListRecentSeenItemsOrdersByFirstSeenDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now()

	if _, err := s.MarkSeenItem(ctx, "rss-task", "hn", "item-old", "", base); err != nil {
		t.Fatalf("MarkSeenItem old: %v", err)
	}
	if _, err := s.MarkSeenItem(ctx, "rss-task", "hn", "item-new", "", base.Add(time.Hour)); err != nil {
		t.Fatalf("MarkSeenItem new: %v", err)
	}

	items, err := s.ListRecentSeenItems(ctx, "rss-task", "hn", 10)
	if err != nil {
		t.Fatalf("ListRecentSeenItems: %v", err)
	}
	if len(items) != 2 || items[0].ItemKey != "item-new" {
		t.Fatalf("expected newest-first ordering, got %+v", items)
	}
}

func TestAppendEventUpdatesDayStatusCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := s.AppendEvent(ctx, DayMemoryEvent{
			Day:       "2026-08-06",
			EventTime: now,
			Kind:      EventKindUser,
			Text:      "hi",
			Layer:     LayerRaw,
		}, now); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	status, err := s.GetDayStatus(ctx, "2026-08-06")
	if err != nil {
		t.Fatalf("GetDayStatus: %v", err)
	}
	if status.TotalMessages != 3 || status.MessagesSinceLastSummary != 3 {
		t.Fatalf("unexpected day status: %+v", status)
	}
}
