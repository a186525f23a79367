// Package memory implements the per-day summary pipeline: ingesting raw
// conversation events, queuing summarization work once a day crosses its
// message threshold, and sweeping any day a restart left un-finalized.
package memory

import (
	"context"
	"fmt"
	"time"

	"zubot/internal/store"
	logx "zubot/pkg/logx"
)

// Config controls when a day's summary job is queued.
type Config struct {
	RealtimeSummaryTurnThreshold int
	PollInterval                 time.Duration
	SweepInterval                time.Duration
}

func (c Config) withDefaults() Config {
	if c.RealtimeSummaryTurnThreshold <= 0 {
		c.RealtimeSummaryTurnThreshold = 40
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	return c
}

// Summarizer turns a day's raw events into narrative text. The shipped
// default is deterministic and concatenative; a model-backed summarizer is
// out of scope for this daemon.
type Summarizer interface {
	Summarize(day string, events []store.DayMemoryEvent) string
}

// Pipeline owns ingestion bookkeeping, the summary-job worker, and the
// stale-day sweep.
type Pipeline struct {
	cfg        Config
	store      *store.Store
	summarizer Summarizer
	log        logx.Logger
	nowFunc    func() time.Time
}

// New builds a Pipeline.
func New(cfg Config, st *store.Store, summarizer Summarizer, log logx.Logger) *Pipeline {
	return &Pipeline{cfg: cfg.withDefaults(), store: st, summarizer: summarizer, log: log, nowFunc: time.Now}
}

// Ingest appends one event to a day's memory log and queues a summary job
// once the day's message count crosses the realtime threshold since its
// last summary.
func (p *Pipeline) Ingest(ctx context.Context, day, sessionID, kind, text string) error {
	now := p.nowFunc().UTC()
	if _, err := p.store.AppendEvent(ctx, store.DayMemoryEvent{
		Day:       day,
		EventTime: now,
		SessionID: sessionID,
		Kind:      kind,
		Text:      text,
		Layer:     store.LayerRaw,
	}, now); err != nil {
		return fmt.Errorf("memory: ingest event: %w", err)
	}

	status, err := p.store.GetDayStatus(ctx, day)
	if err != nil {
		return fmt.Errorf("memory: get day status: %w", err)
	}
	if status != nil && status.MessagesSinceLastSummary >= p.cfg.RealtimeSummaryTurnThreshold {
		if _, _, err := p.store.EnqueueSummaryJob(ctx, day, "threshold", now); err != nil {
			return fmt.Errorf("memory: enqueue threshold summary job: %w", err)
		}
	}
	return nil
}

// RunWorker drains queued summary jobs until ctx is cancelled.
func (p *Pipeline) RunWorker(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.drainOnce(ctx)
		}
	}
}

func (p *Pipeline) drainOnce(ctx context.Context) {
	for {
		job, err := p.store.ClaimNextSummaryJob(ctx, p.nowFunc().UTC())
		if err != nil {
			p.log.Error("memory: claim summary job", logx.Err(err))
			return
		}
		if job == nil {
			return
		}
		p.runJob(ctx, job)
	}
}

func (p *Pipeline) runJob(ctx context.Context, job *store.SummaryJob) {
	now := p.nowFunc().UTC()
	events, err := p.store.ListEvents(ctx, job.Day)
	if err != nil {
		p.log.Error("memory: list events", logx.String("day", job.Day), logx.Err(err))
		_ = p.store.FinishSummaryJob(ctx, job.JobID, store.SummaryFailed, now)
		return
	}

	text := p.summarizer.Summarize(job.Day, events)
	if err := p.store.PutDaySummary(ctx, job.Day, text, now); err != nil {
		p.log.Error("memory: put day summary", logx.String("day", job.Day), logx.Err(err))
		_ = p.store.FinishSummaryJob(ctx, job.JobID, store.SummaryFailed, now)
		return
	}

	finalize := job.Reason == "finalize"
	if err := p.store.UpsertDayStatus(ctx, job.Day, len(events), finalize, now); err != nil {
		p.log.Error("memory: upsert day status", logx.String("day", job.Day), logx.Err(err))
	}
	if err := p.store.FinishSummaryJob(ctx, job.JobID, store.SummaryDone, now); err != nil {
		p.log.Error("memory: finish summary job", logx.String("job_id", job.JobID), logx.Err(err))
	}
}

// SweepUnfinalized queues a finalize job for every day strictly before
// today that was left un-finalized, catching days orphaned by a restart.
func (p *Pipeline) SweepUnfinalized(ctx context.Context) (int, error) {
	today := p.nowFunc().UTC().Format("2006-01-02")
	days, err := p.store.ListUnfinalizedDaysBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("memory: list unfinalized days: %w", err)
	}
	queued := 0
	for _, day := range days {
		if _, ok, err := p.store.EnqueueSummaryJob(ctx, day, "finalize", p.nowFunc().UTC()); err != nil {
			return queued, fmt.Errorf("memory: enqueue finalize job for %s: %w", day, err)
		} else if ok {
			queued++
		}
	}
	return queued, nil
}

// RunSweepLoop runs SweepUnfinalized on cfg.SweepInterval until ctx is cancelled.
func (p *Pipeline) RunSweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.SweepUnfinalized(ctx); err != nil {
				p.log.Error("memory: sweep unfinalized days", logx.Err(err))
			}
		}
	}
}
