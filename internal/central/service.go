// Package central wires the seven core components (Store, SQL Gateway,
// Heartbeat, Dispatcher, Runner, Provider Queues, Memory Pipeline) into one
// supervised service, and aggregates their state for the Control API's
// status and metrics endpoints.
//
// Start/Stop are idempotent, following the teacher's task-engine Service
// (dispatcher_src_ref/service.go): a stopCh/stopDone pair under a mutex, with
// a background goroutine that waits for the supervisor to drain before
// clearing state.
package central

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zubot/internal/config"
	"zubot/internal/dispatcher"
	"zubot/internal/eventbus"
	"zubot/internal/memory"
	"zubot/internal/providerqueue"
	"zubot/internal/runner"
	rtsup "zubot/internal/runtime/supervisor"
	"zubot/internal/scheduler"
	"zubot/internal/sqlgateway"
	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

// Service owns every core component and the background loops that drive
// them: the heartbeat ticker, the dispatcher poll loop, the memory worker
// and sweep loops, and the waiting-for-user timeout housekeeping loop.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	Store      *store.Store
	SQL        *sqlgateway.Gateway
	Heartbeat  *scheduler.Heartbeat
	Dispatcher *dispatcher.Dispatcher
	Runner     *runner.Runner
	Providers  *providerqueue.Queue
	Memory     *memory.Pipeline

	cfg config.Config

	mu        sync.Mutex
	sup       *rtsup.Supervisor
	stopCh    chan struct{}
	stopDone  chan struct{}
	startedAt time.Time
}

// New opens the store and constructs every component from cfg. Callers must
// call Start to begin the background loops.
func New(ctx context.Context, cfg config.Config, log logx.Logger, bus eventbus.Bus, taskRunner *runner.Runner) (*Service, error) {
	st, err := store.Open(ctx, store.Config{
		Path:          cfg.Scheduler.DBPath,
		BusyTimeoutMs: cfg.SQL.BusyTimeoutMs,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, fmt.Errorf("central: open store: %w", err)
	}

	gw := sqlgateway.New(st.DB(), sqlgateway.Config{
		DefaultMaxRows: cfg.SQL.DefaultMaxRows,
	}, log.With(logx.String("comp", "sqlgateway")))

	hb := scheduler.New(st, bus, log.With(logx.String("comp", "heartbeat")))

	disp := dispatcher.New(dispatcher.Config{
		Concurrency:  cfg.Runner.Concurrency,
		PollInterval: time.Second,
	}, st, taskRunner, bus, log.With(logx.String("comp", "dispatcher")))

	pq := providerqueue.New()

	mem := memory.New(memory.Config{
		RealtimeSummaryTurnThreshold: cfg.Memory.RealtimeSummaryTurnThreshold,
		PollInterval:                 time.Duration(cfg.Memory.WorkerPollSec) * time.Second,
		SweepInterval:                time.Duration(cfg.Memory.SweepIntervalSec) * time.Second,
	}, st, memory.ConcatSummarizer{}, log.With(logx.String("comp", "memory")))

	return &Service{
		log:        log,
		bus:        bus,
		Store:      st,
		SQL:        gw,
		Heartbeat:  hb,
		Dispatcher: disp,
		Runner:     taskRunner,
		Providers:  pq,
		Memory:     mem,
		cfg:        cfg,
	}, nil
}

// GroupConfig returns the rate-limit policy for a provider queue group,
// converting the config's float64-seconds fields to time.Duration.
func (s *Service) GroupConfig(group string) providerqueue.GroupConfig {
	return toGroupConfig(s.cfg.Providers[group])
}

func toGroupConfig(p config.ProviderQueueConfig) providerqueue.GroupConfig {
	return providerqueue.GroupConfig{
		MinInterval:  time.Duration(p.MinIntervalSec * float64(time.Second)),
		Jitter:       time.Duration(p.JitterSec * float64(time.Second)),
		MaxRetries:   p.MaxRetries,
		RetryBackoff: time.Duration(p.RetryBackoffSec * float64(time.Second)),
	}
}

// Start begins every background loop under a fresh supervisor. It is
// idempotent: a second call while already running is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.stopDone = nil
	s.startedAt = time.Now()

	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "central"))), rtsup.WithCancelOnError(false))
	s.sup = sup
	s.mu.Unlock()

	s.SQL.Start()

	heartbeatInterval := time.Duration(s.cfg.Scheduler.HeartbeatPollIntervalSec) * time.Second
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	minB, maxB := restartBackoffFor(heartbeatInterval)
	sup.GoRestart0("heartbeat", func(c context.Context) {
		s.runHeartbeatLoop(c, heartbeatInterval)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	minB, maxB = restartBackoffFor(time.Second)
	sup.GoRestart("dispatcher", func(c context.Context) error {
		return s.Dispatcher.Run(c)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	workerPoll := time.Duration(s.cfg.Memory.WorkerPollSec) * time.Second
	minB, maxB = restartBackoffFor(workerPoll)
	sup.GoRestart("memory-worker", func(c context.Context) error {
		return s.Memory.RunWorker(c)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	sweepInterval := time.Duration(s.cfg.Memory.SweepIntervalSec) * time.Second
	minB, maxB = restartBackoffFor(sweepInterval)
	sup.GoRestart("memory-sweep", func(c context.Context) error {
		return s.Memory.RunSweepLoop(c)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	sup.GoRestart("memory-ingest", func(c context.Context) error {
		return s.runMemoryIngestLoop(c)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(restartBackoffFor(time.Second)))

	waitingTimeoutInterval := 30 * time.Second
	minB, maxB = restartBackoffFor(waitingTimeoutInterval)
	sup.GoRestart0("waiting-timeout", func(c context.Context) {
		s.runWaitingTimeoutLoop(c, waitingTimeoutInterval)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	historyRetention := time.Duration(s.cfg.Runner.RunHistoryRetentionDays) * 24 * time.Hour
	minB, maxB = restartBackoffFor(time.Hour)
	sup.GoRestart0("history-prune", func(c context.Context) {
		s.runHistoryPruneLoop(c, historyRetention)
	}, rtsup.WithPublishFirstError(true), rtsup.WithRestartBackoff(minB, maxB))

	s.log.Info("central service started",
		logx.Int("concurrency", s.cfg.Runner.Concurrency),
		logx.Duration("heartbeat_interval", heartbeatInterval))
}

func (s *Service) runHeartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Heartbeat.Tick(ctx); err != nil {
				s.log.Error("central: heartbeat tick", logx.Err(err))
			}
		}
	}
}

// Stop cancels every background loop and waits for them to drain. It is
// idempotent, mirroring the teacher's Service.Stop.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}
	s.SQL.Stop()

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("central service stopped")
	case <-ctx.Done():
		s.log.Warn("central service stop timed out", logx.Err(ctx.Err()))
	}
}

// Publish forwards an event to the shared bus. It lets callers outside the
// dispatcher/heartbeat loops (the Control API's manual trigger and resume
// handlers) signal the same run lifecycle milestones the memory ingestor
// listens for.
func (s *Service) Publish(e eventbus.Event) {
	s.bus.Publish(e)
}

// restartBackoffFor derives a loop's crash-restart backoff window from its
// own natural cadence: a loop that ticks every interval shouldn't restart
// faster than a quarter of that (thrashing a dependency that's already
// down) nor wait longer than a few multiples of it (staying dark long after
// it could have recovered), capped at 5 minutes for very slow loops like
// the history pruner.
func restartBackoffFor(interval time.Duration) (time.Duration, time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	min := interval / 4
	if min < 250*time.Millisecond {
		min = 250 * time.Millisecond
	}
	max := interval * 4
	if max > 5*time.Minute {
		max = 5 * time.Minute
	}
	if max < min {
		max = min
	}
	return min, max
}

// SupervisorSnapshot returns a point-in-time view of every background
// loop's restart/panic counters, or a zero-value snapshot while stopped.
func (s *Service) SupervisorSnapshot() rtsup.SupervisorSnapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return rtsup.SupervisorSnapshot{}
	}
	return sup.Snapshot()
}

// Running reports whether the core loops are currently active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Close releases the store handle. Call after Stop.
func (s *Service) Close() error {
	return s.Store.Close()
}
