package central

import (
	"context"
	"sync"
	"time"

	"zubot/internal/eventbus"
	logx "zubot/pkg/logx"
)

// runLifecycleMilestones is the exact event-type set the memory ingestor
// forwards into the per-day event log: queue/finished/failed/blocked/
// waiting/resumed milestones, per the Runner-return lifecycle contract.
// Everything else on the bus (run.started, heartbeat.enqueued, ...) is
// intentionally not forwarded.
var runLifecycleMilestones = map[eventbus.EventType]string{
	eventbus.RunQueued:         "queued",
	eventbus.RunFinished:       "finished",
	eventbus.RunFailed:         "failed",
	eventbus.RunBlocked:        "blocked",
	eventbus.RunWaiting:        "waiting",
	eventbus.RunWaitingTimeout: "blocked",
	eventbus.RunResumed:        "resumed",
}

// completionSweepMilestones are the terminal-or-blocked milestones that
// arm the debounced sweep: a run reaching one of these is a plausible
// moment for its day to have gone quiet and be ready to finalize.
var completionSweepMilestones = map[eventbus.EventType]bool{
	eventbus.RunFinished: true,
	eventbus.RunFailed:   true,
	eventbus.RunBlocked:  true,
}

// runMemoryIngestLoop subscribes to the event bus and feeds run lifecycle
// milestones into the memory pipeline so day summaries reflect scheduling
// and execution activity, not just conversational turns. It also debounces
// a completion-triggered SweepUnfinalized call: every completion milestone
// resets a timer, and once no completion arrives for
// memory_manager_completion_debounce_sec the sweep actually runs, matching
// the teacher's own reload-debounce shape (a single guarded *time.Timer,
// stopped and rescheduled on each event) rather than sweeping on every run.
func (s *Service) runMemoryIngestLoop(ctx context.Context) error {
	ch, unsubscribe := s.bus.Subscribe(64)
	defer unsubscribe()

	debounce := time.Duration(s.cfg.Memory.CompletionDebounceSec) * time.Second
	if debounce <= 0 {
		debounce = 20 * time.Second
	}
	var timerMu sync.Mutex
	var timer *time.Timer
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	armCompletionSweep := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if _, err := s.Memory.SweepUnfinalized(ctx); err != nil {
				s.log.Error("central: completion-debounced memory sweep", logx.Err(err))
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if completionSweepMilestones[e.Type] {
				armCompletionSweep()
			}
			kind, wanted := runLifecycleMilestones[e.Type]
			if !wanted {
				continue
			}
			s.ingestMilestone(ctx, e, kind)
		}
	}
}

func (s *Service) ingestMilestone(ctx context.Context, e eventbus.Event, kind string) {
	day := e.Time.UTC().Format("2006-01-02")
	sessionID := ""
	if m, ok := e.Data.(map[string]any); ok {
		if v, ok := m["run_id"].(string); ok {
			sessionID = v
		}
	}
	if err := s.Memory.Ingest(ctx, day, sessionID, kind, string(e.Type)); err != nil {
		s.log.Error("central: memory ingest", logx.String("event", string(e.Type)), logx.Err(err))
	}
}
