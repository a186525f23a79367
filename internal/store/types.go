// Package store owns the SQLite schema and typed data-access primitives for
// the daemon: schedules, runs, history, task profiles, per-task key/value
// state, the seen-item ledger, heartbeat state, day-memory events,
// summaries, and the summary-job queue.
package store

import "time"

// Task kinds.
const (
	KindScript             = "script"
	KindAgentic            = "agentic"
	KindInteractiveWrapper = "interactive_wrapper"
)

// Schedule modes.
const (
	ModeFrequency = "frequency"
	ModeCalendar  = "calendar"
)

// Misfire policies.
const (
	MisfireQueueAll    = "queue_all"
	MisfireQueueLatest = "queue_latest"
	MisfireSkip        = "skip"
)

// Run statuses.
const (
	RunQueued         = "queued"
	RunRunning        = "running"
	RunWaitingForUser = "waiting_for_user"
	RunDone           = "done"
	RunFailed         = "failed"
	RunBlocked        = "blocked"
)

// Terminal error markers for Run.Error, resolving SPEC_FULL.md Open Question (a).
const (
	ErrKilled                = "killed"
	ErrTimeout               = "timeout"
	ErrWaitingForUserTimeout = "waiting_for_user_timeout"
	ErrOverlapLost           = "overlap_lost"
)

// SummaryJob statuses.
const (
	SummaryQueued  = "queued"
	SummaryRunning = "running"
	SummaryDone    = "done"
	SummaryFailed  = "failed"
)

// DayMemoryEvent kinds.
const (
	EventKindUser            = "user"
	EventKindMainAgent       = "main_agent"
	EventKindTaskAgentEvent  = "task_agent_event"
)

// EventLayers.
const (
	LayerRaw     = "raw"
	LayerSummary = "summary"
)

const isoLayout = time.RFC3339Nano

// TaskProfile declares an executable task.
type TaskProfile struct {
	TaskID         string
	Kind           string
	EntrypointPath string
	Module         string
	QueueGroup     string
	TimeoutSec     int
	RetryPolicy    string
	Enabled        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedule is a recurring binding of a task.
type Schedule struct {
	ScheduleID         string
	ProfileID          string
	Enabled            bool
	Mode               string
	RunFrequencyMinutes int
	TimesOfDay         []string // "HH:MM", calendar mode
	Timezone           string
	DaysOfWeek         []string // mon..sun, calendar mode
	MisfirePolicy      string
	ExecutionOrder     int
	NextRunAt          *time.Time
	LastPlannedRunAt   *time.Time
	LastRunID          string
	LastRunStatus      string
	LastRunFinishedAt  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Run is an active lifecycle record.
type Run struct {
	RunID        string
	ScheduleID   *string
	ProfileID    string
	Status       string
	PlannedFireAt *time.Time
	QueuedAt     time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Summary      string
	Error        string
	PayloadJSON  string
}

// RunHistory is a terminal snapshot for bounded history.
type RunHistory struct {
	RunID        string
	ScheduleID   *string
	ProfileID    string
	Status       string
	PlannedFireAt *time.Time
	QueuedAt     time.Time
	StartedAt    *time.Time
	FinishedAt   time.Time
	Summary      string
	Error        string
	PayloadJSON  string
}

// TaskSeenItem is an idempotency ledger entry.
type TaskSeenItem struct {
	TaskID       string
	Provider     string
	ItemKey      string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SeenCount    int
	MetadataJSON string
}

// TaskStateKV is an atomic per-task checkpoint/cursor value.
type TaskStateKV struct {
	TaskID    string
	StateKey  string
	Value     string
	UpdatedAt time.Time
}

// DayMemoryEvent is an append-only per-day event.
type DayMemoryEvent struct {
	EventID   string
	Day       string
	EventTime time.Time
	SessionID string
	Kind      string
	Text      string
	Layer     string
}

// DayMemoryStatus is per-day counters.
type DayMemoryStatus struct {
	Day                     string
	TotalMessages           int
	LastSummarizedTotal     int
	MessagesSinceLastSummary int
	SummariesCount          int
	IsFinalized             bool
	LastEventAt             *time.Time
	LastSummaryAt           *time.Time
}

// SummaryJob is per-day summarization work.
type SummaryJob struct {
	JobID        string
	Day          string
	Status       string
	Reason       string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DaySummary is the materialized narrative summary for one day.
type DaySummary struct {
	Day       string
	Text      string
	UpdatedAt time.Time
}

// HeartbeatState is the singleton 'main' heartbeat row.
type HeartbeatState struct {
	Name             string
	LastStartAt      *time.Time
	LastFinishAt     *time.Time
	LastStatus       string
	LastError        string
	LastEnqueuedCount int
}
