package central

import (
	"context"
	"time"

	"zubot/internal/eventbus"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

// runWaitingTimeoutLoop periodically scans every waiting_for_user run and
// terminates the ones whose interactive envelope has expired, per S5: the
// run becomes terminal blocked with error=waiting_for_user_timeout and its
// slot (already released when the Runner returned waiting_for_user) stays
// free.
func (s *Service) runWaitingTimeoutLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepWaitingTimeouts(ctx)
		}
	}
}

func (s *Service) sweepWaitingTimeouts(ctx context.Context) {
	runs, err := s.Store.ListWaitingForUserRuns(ctx)
	if err != nil {
		s.log.Error("central: list waiting-for-user runs", logx.Err(err))
		return
	}
	now := time.Now()
	for _, r := range runs {
		env, ok := ParseInteractiveEnvelope(r.Summary)
		if !ok || now.Before(env.ExpiresAt) {
			continue
		}
		if err := s.Store.TransitionRun(ctx, r.RunID, store.RunBlocked, r.Summary, store.ErrWaitingForUserTimeout, &now); err != nil {
			s.log.Error("central: expire waiting run", logx.String("run_id", r.RunID), logx.Err(err))
			continue
		}
		if err := s.Store.ArchiveToHistory(ctx, r.RunID); err != nil {
			s.log.Error("central: archive expired waiting run", logx.String("run_id", r.RunID), logx.Err(err))
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.RunWaitingTimeout, Data: map[string]any{"run_id": r.RunID}})
	}
}

// runHistoryPruneLoop periodically deletes run_history rows older than
// retention. A zero retention disables pruning.
func (s *Service) runHistoryPruneLoop(ctx context.Context, retention time.Duration) {
	if retention <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			n, err := s.Store.PruneHistory(ctx, cutoff)
			if err != nil {
				s.log.Error("central: prune run history", logx.Err(err))
				continue
			}
			if n > 0 {
				s.log.Info("central: pruned run history", logx.Int64("rows", n))
			}
		}
	}
}
