// Package scheduler implements the Heartbeat: the periodic tick that walks
// every enabled schedule, enumerates fires missed or due since its
// persisted cursor, applies the schedule's misfire policy, and enqueues
// runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"zubot/internal/eventbus"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

// DefaultCatchupWindow bounds how far behind "now" the Heartbeat will ever
// enumerate fires, regardless of misfire policy. It is a safety cap on
// enumeration cost, not a per-policy override.
const DefaultCatchupWindow = 180 * time.Minute

// Heartbeat owns the daemon's single scheduling cursor sweep.
type Heartbeat struct {
	store         *store.Store
	log           logx.Logger
	bus           eventbus.Bus
	catchupWindow time.Duration
	nowFunc       func() time.Time
}

// Option configures a Heartbeat.
type Option func(*Heartbeat)

// WithCatchupWindow overrides DefaultCatchupWindow.
func WithCatchupWindow(d time.Duration) Option {
	return func(h *Heartbeat) { h.catchupWindow = d }
}

// WithNowFunc injects a fake clock for tests.
func WithNowFunc(f func() time.Time) Option {
	return func(h *Heartbeat) { h.nowFunc = f }
}

// New builds a Heartbeat over st, publishing lifecycle events to bus.
func New(st *store.Store, bus eventbus.Bus, log logx.Logger, opts ...Option) *Heartbeat {
	h := &Heartbeat{
		store:         st,
		log:           log,
		bus:           bus,
		catchupWindow: DefaultCatchupWindow,
		nowFunc:       time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Tick evaluates every enabled schedule once and enqueues due runs. It is
// meant to be called on a fixed interval by a supervised goroutine.
func (h *Heartbeat) Tick(ctx context.Context) error {
	now := h.nowFunc().UTC()
	if err := h.store.RecordHeartbeatStart(ctx, now); err != nil {
		return err
	}

	schedules, err := h.store.ListSchedules(ctx)
	if err != nil {
		_ = h.store.RecordHeartbeatFinish(ctx, "failed", err.Error(), 0, now)
		return err
	}

	enqueued := 0
	var tickErr error
	for _, sc := range schedules {
		if !sc.Enabled {
			continue
		}
		n, err := h.evaluateSchedule(ctx, sc, now)
		if err != nil {
			h.log.Error("heartbeat: evaluate schedule failed",
				logx.String("schedule_id", sc.ScheduleID), logx.Err(err))
			tickErr = err
			continue
		}
		enqueued += n
	}

	status := "ok"
	errText := ""
	if tickErr != nil {
		status = "partial_failure"
		errText = tickErr.Error()
	}
	if err := h.store.RecordHeartbeatFinish(ctx, status, errText, enqueued, now); err != nil {
		return err
	}
	if enqueued > 0 {
		h.bus.Publish(eventbus.Event{Type: eventbus.HeartbeatEnqueued, Time: now, Data: map[string]any{"count": enqueued}})
	}
	return nil
}

// evaluateSchedule enumerates fires for one schedule, applies its misfire
// policy, enqueues runs, and advances its cursor. It returns the number of
// runs actually enqueued.
func (h *Heartbeat) evaluateSchedule(ctx context.Context, sc store.Schedule, now time.Time) (int, error) {
	windowStart := now.Add(-h.catchupWindow)

	var fires []time.Time
	var newCursor time.Time

	switch sc.Mode {
	case store.ModeFrequency:
		fires, newCursor = h.frequencyFires(sc, now, windowStart)
	case store.ModeCalendar:
		var err error
		fires, err = h.calendarFires(sc, now, windowStart)
		if err != nil {
			return 0, err
		}
		newCursor = now
		if len(fires) > 0 {
			newCursor = fires[len(fires)-1]
		} else if sc.LastPlannedRunAt != nil {
			newCursor = *sc.LastPlannedRunAt
		}
	default:
		return 0, fmt.Errorf("scheduler: unknown schedule mode %q for %s", sc.Mode, sc.ScheduleID)
	}

	chosen := applyMisfirePolicy(sc.MisfirePolicy, fires)

	enqueued := 0
	for _, fire := range chosen {
		active, err := h.store.HasActiveRun(ctx, sc.ProfileID)
		if err != nil {
			return enqueued, err
		}
		if active {
			// No-overlap: a run for this profile is already running or
			// waiting_for_user. Skip this fire but still advance the
			// cursor below so the tick doesn't re-enumerate it forever.
			continue
		}
		runID, ok, err := h.store.EnqueueScheduledRun(ctx, sc.ProfileID, sc.ScheduleID, fire, now)
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
			h.bus.Publish(eventbus.Event{Type: eventbus.RunQueued, Time: now, Data: map[string]any{"run_id": runID, "profile_id": sc.ProfileID}})
		}
	}

	var nextRunAt *time.Time
	switch sc.Mode {
	case store.ModeFrequency:
		t := newCursor.Add(time.Duration(sc.RunFrequencyMinutes) * time.Minute)
		nextRunAt = &t
	case store.ModeCalendar:
		next, err := nextCalendarFireAfter(sc, now)
		if err != nil {
			return enqueued, err
		}
		nextRunAt = next
	}

	lastPlanned := newCursor
	if err := h.store.AdvanceScheduleCursor(ctx, sc.ScheduleID, nextRunAt, &lastPlanned, now); err != nil {
		return enqueued, err
	}
	return enqueued, nil
}

// frequencyFires steps forward from the schedule's cursor by
// run_frequency_minutes, returning fires within [windowStart, now] and the
// full (unfiltered) cursor position the enumeration reached, so the cursor
// keeps pace with `now` even when fires outside the window are dropped.
func (h *Heartbeat) frequencyFires(sc store.Schedule, now, windowStart time.Time) ([]time.Time, time.Time) {
	if sc.RunFrequencyMinutes <= 0 {
		return nil, now
	}
	if sc.LastPlannedRunAt == nil {
		return []time.Time{now}, now
	}

	interval := time.Duration(sc.RunFrequencyMinutes) * time.Minute
	t := *sc.LastPlannedRunAt
	cursor := *sc.LastPlannedRunAt
	var fires []time.Time
	for {
		next := t.Add(interval)
		if next.After(now) {
			break
		}
		t = next
		cursor = next
		if !t.Before(windowStart) {
			fires = append(fires, t)
		}
	}
	return fires, cursor
}

func (h *Heartbeat) calendarFires(sc store.Schedule, now, windowStart time.Time) ([]time.Time, error) {
	from := windowStart
	if sc.LastPlannedRunAt != nil && sc.LastPlannedRunAt.After(windowStart) {
		from = *sc.LastPlannedRunAt
	}
	return calendarFiresInWindow(sc, from, now)
}

// applyMisfirePolicy decides which of the enumerated fires to actually
// enqueue. A single on-time fire is always enqueued regardless of policy;
// the policy only governs backlog left by downtime.
func applyMisfirePolicy(policy string, fires []time.Time) []time.Time {
	if len(fires) <= 1 {
		return fires
	}
	switch policy {
	case store.MisfireQueueAll:
		return fires
	case store.MisfireSkip:
		return nil
	case store.MisfireQueueLatest:
		fallthrough
	default:
		return fires[len(fires)-1:]
	}
}
