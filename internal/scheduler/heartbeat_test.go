package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zubot/internal/eventbus"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), store.Config{Path: filepath.Join(dir, "sched.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFrequencyScheduleQueueAllEnqueuesEveryMissedFire(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	if err := st.UpsertTaskProfile(ctx, store.TaskProfile{TaskID: "digest", Kind: store.KindScript}, base); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	scheduleID, err := st.CreateSchedule(ctx, store.Schedule{
		ProfileID:           "digest",
		Enabled:             true,
		Mode:                store.ModeFrequency,
		RunFrequencyMinutes: 10,
		MisfirePolicy:       store.MisfireQueueAll,
	}, base)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	now := base
	hb := New(st, eventbus.New(), logx.Nop(), WithNowFunc(func() time.Time { return now }))

	// First tick: no cursor yet, fires exactly once (matches "just started" semantics).
	if err := hb.Tick(ctx); err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	runs, err := st.ListActiveRunsByProfile(ctx, "digest")
	if err != nil {
		t.Fatalf("ListActiveRunsByProfile: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run after first tick, got %d", len(runs))
	}

	// Simulate 35 minutes of downtime: three more 10-minute fires are due.
	now = base.Add(35 * time.Minute)
	if err := hb.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	runs, err = st.ListActiveRunsByProfile(ctx, "digest")
	if err != nil {
		t.Fatalf("ListActiveRunsByProfile: %v", err)
	}
	if len(runs) != 4 {
		t.Fatalf("expected 4 total queued runs (1 + 3 missed) under queue_all, got %d", len(runs))
	}

	sc, err := st.GetSchedule(ctx, scheduleID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	// Last enumerated fire is base+30m, so the next fire on the 10-minute grid is base+40m.
	if sc.NextRunAt == nil || !sc.NextRunAt.Equal(base.Add(40*time.Minute)) {
		t.Fatalf("unexpected next_run_at: %+v", sc.NextRunAt)
	}
}

func TestFrequencyScheduleSkipDropsBacklog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	if err := st.UpsertTaskProfile(ctx, store.TaskProfile{TaskID: "digest", Kind: store.KindScript}, base); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	if _, err := st.CreateSchedule(ctx, store.Schedule{
		ProfileID:           "digest",
		Enabled:             true,
		Mode:                store.ModeFrequency,
		RunFrequencyMinutes: 10,
		MisfirePolicy:       store.MisfireSkip,
	}, base); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	now := base
	hb := New(st, eventbus.New(), logx.Nop(), WithNowFunc(func() time.Time { return now }))
	if err := hb.Tick(ctx); err != nil {
		t.Fatalf("first Tick: %v", err)
	}

	now = base.Add(35 * time.Minute)
	if err := hb.Tick(ctx); err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "digest")
	if err != nil {
		t.Fatalf("ListActiveRunsByProfile: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the 3-fire backlog to be dropped under skip, got %d runs", len(runs))
	}
}

func TestCalendarScheduleQueueLatestPicksMostRecentFire(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 6, 0, 0, 0, 0, time.UTC)

	if err := st.UpsertTaskProfile(ctx, store.TaskProfile{TaskID: "report", Kind: store.KindScript}, base); err != nil {
		t.Fatalf("UpsertTaskProfile: %v", err)
	}
	if _, err := st.CreateSchedule(ctx, store.Schedule{
		ProfileID:      "report",
		Enabled:        true,
		Mode:           store.ModeCalendar,
		TimesOfDay:     []string{"09:00"},
		Timezone:       "UTC",
		MisfirePolicy:  store.MisfireQueueLatest,
		LastPlannedRunAt: timePtr(base.Add(-48 * time.Hour)),
	}, base); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	// now = day 3 at 10:00 UTC, so three 09:00 fires (days 1-3) fall within the window.
	now := time.Date(2026, 8, 8, 10, 0, 0, 0, time.UTC)
	hb := New(st, eventbus.New(), logx.Nop(), WithNowFunc(func() time.Time { return now }), WithCatchupWindow(72*time.Hour))
	if err := hb.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	runs, err := st.ListActiveRunsByProfile(ctx, "report")
	if err != nil {
		t.Fatalf("ListActiveRunsByProfile: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected exactly 1 enqueued run under queue_latest, got %d", len(runs))
	}
	if runs[0].PlannedFireAt == nil || runs[0].PlannedFireAt.Hour() != 9 {
		t.Fatalf("expected the 09:00 fire on the latest day, got %+v", runs[0].PlannedFireAt)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
