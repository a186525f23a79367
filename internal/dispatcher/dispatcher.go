// Package dispatcher claims queued runs and executes them against a fixed
// worker pool, enforcing one active run per task profile and honoring
// cooperative cancellation.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"zubot/internal/eventbus"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

// Dispatcher owns the claim-then-execute loop and the table of in-flight
// cancellation functions used by Kill.
type Dispatcher struct {
	cfg    Config
	store  *store.Store
	runner Runner
	bus    eventbus.Bus
	log    logx.Logger

	sem chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Dispatcher. Call Run to start the poll loop.
func New(cfg Config, st *store.Store, runner Runner, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		runner:  runner,
		bus:     bus,
		log:     log,
		sem:     make(chan struct{}, cfg.Concurrency),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run polls for queued runs until ctx is cancelled, blocking until all
// in-flight executions have finished.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

// Kill cancels an in-flight run's context if it is currently running here.
// It reports false if the run is not owned by this dispatcher instance
// (e.g. already finished, or never claimed).
func (d *Dispatcher) Kill(runID string) bool {
	d.mu.Lock()
	cancel, ok := d.cancels[runID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (d *Dispatcher) pollOnce(ctx context.Context) {
	available := d.availableSlots()
	if available <= 0 {
		return
	}

	candidates, err := d.store.ListQueuedRuns(ctx, available*4)
	if err != nil {
		d.log.Error("dispatcher: list queued runs", logx.Err(err))
		return
	}

	for _, run := range candidates {
		if d.availableSlots() <= 0 {
			return
		}
		active, err := d.store.HasActiveRun(ctx, run.ProfileID)
		if err != nil {
			d.log.Error("dispatcher: check active run", logx.String("profile_id", run.ProfileID), logx.Err(err))
			continue
		}
		if active {
			continue
		}

		claimed, err := d.store.ClaimRun(ctx, run.RunID, time.Now())
		if err != nil {
			d.log.Error("dispatcher: claim run", logx.String("run_id", run.RunID), logx.Err(err))
			continue
		}
		if !claimed {
			// Lost the no-overlap race to another candidate for the same
			// profile claimed between our check and our claim; the run
			// stays queued and will be retried next tick.
			continue
		}

		profile, err := d.store.GetTaskProfile(ctx, run.ProfileID)
		if err != nil {
			d.log.Error("dispatcher: load task profile", logx.String("profile_id", run.ProfileID), logx.Err(err))
			_ = d.store.RequeueRun(ctx, run.RunID)
			continue
		}

		d.launch(ctx, run, *profile)
	}
}

func (d *Dispatcher) availableSlots() int {
	return cap(d.sem) - len(d.sem)
}

func (d *Dispatcher) launch(parent context.Context, run store.Run, profile store.TaskProfile) {
	select {
	case d.sem <- struct{}{}:
	default:
		_ = d.store.RequeueRun(parent, run.RunID)
		return
	}

	runCtx, cancel := context.WithCancel(parent)
	if profile.TimeoutSec > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, time.Duration(profile.TimeoutSec)*time.Second)
		orig := cancel
		cancel = func() { timeoutCancel(); orig() }
	}

	d.mu.Lock()
	d.cancels[run.RunID] = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go d.execute(runCtx, cancel, run, profile)
}

func (d *Dispatcher) execute(ctx context.Context, cancel context.CancelFunc, run store.Run, profile store.TaskProfile) {
	defer d.wg.Done()
	defer func() {
		<-d.sem
		d.mu.Lock()
		delete(d.cancels, run.RunID)
		d.mu.Unlock()
		cancel()
	}()

	d.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: map[string]any{"run_id": run.RunID, "profile_id": run.ProfileID}})

	outcome := d.runner.Execute(ctx, RunTask{
		RunID:       run.RunID,
		ProfileID:   run.ProfileID,
		Kind:        profile.Kind,
		Entrypoint:  profile.EntrypointPath,
		Module:      profile.Module,
		TimeoutSec:  profile.TimeoutSec,
		PayloadJSON: run.PayloadJSON,
	})

	now := time.Now()
	finished := &now
	if outcome.Status == store.RunWaitingForUser {
		finished = nil
	}
	if err := d.store.TransitionRun(context.Background(), run.RunID, outcome.Status, outcome.Summary, outcome.Error, finished); err != nil {
		d.log.Error("dispatcher: transition run", logx.String("run_id", run.RunID), logx.Err(err))
		return
	}

	if run.ScheduleID != nil {
		if err := d.store.RecordScheduleRunOutcome(context.Background(), *run.ScheduleID, run.RunID, outcome.Status, now); err != nil {
			d.log.Error("dispatcher: record schedule outcome", logx.String("schedule_id", *run.ScheduleID), logx.Err(err))
		}
	}

	if finished != nil {
		if err := d.store.ArchiveToHistory(context.Background(), run.RunID); err != nil {
			d.log.Error("dispatcher: archive run", logx.String("run_id", run.RunID), logx.Err(err))
		}
	}

	d.bus.Publish(eventbus.Event{Type: milestoneEventType(outcome.Status), Data: map[string]any{"run_id": run.RunID, "status": outcome.Status}})
}

// milestoneEventType maps a terminal (or waiting) run status to the
// lifecycle milestone event type the memory ingestor listens for.
func milestoneEventType(status string) eventbus.EventType {
	switch status {
	case store.RunDone:
		return eventbus.RunFinished
	case store.RunFailed:
		return eventbus.RunFailed
	case store.RunBlocked:
		return eventbus.RunBlocked
	case store.RunWaitingForUser:
		return eventbus.RunWaiting
	default:
		return eventbus.RunFinished
	}
}
