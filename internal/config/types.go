package config

// Config is the root configuration for the zubot core daemon. Every key from
// SPEC_FULL.md section 6.3 has a field here; unrecognized keys in the source
// file are ignored, not fatal (see Parse in manager.go).
type Config struct {
	Logging LoggingConfig `json:"logging"`
	HTTP    HTTPConfig    `json:"http"`

	Central   CentralConfig   `json:"central_service"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Runner    RunnerConfig    `json:"task_runner"`
	Memory    MemoryConfig    `json:"memory"`
	SQL       SQLGatewayConfig `json:"db_queue"`

	// Providers maps a queue_group name to its rate-limit policy.
	Providers map[string]ProviderQueueConfig `json:"providers,omitempty"`
}

type LoggingConfig struct {
	Level   string          `json:"level"`
	Console bool            `json:"console"`
	File    LoggingFile     `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"` // default ":8642"
}

// CentralConfig controls the top-level supervisor: whether the core loops
// autostart, and process-wide observability thresholds.
type CentralConfig struct {
	Enabled                bool   `json:"enabled"`
	QueueWarningThreshold  int    `json:"queue_warning_threshold"`
	RunningAgeWarningSec   int    `json:"running_age_warning_sec"`
}

// SchedulerConfig controls the Heartbeat.
type SchedulerConfig struct {
	HeartbeatPollIntervalSec int    `json:"heartbeat_poll_interval_sec"`
	DBPath                   string `json:"scheduler_db_path"`
}

// RunnerConfig controls the Dispatcher + Slots and Runner.
type RunnerConfig struct {
	Concurrency              int    `json:"task_runner_concurrency"`
	RunHistoryRetentionDays  int    `json:"run_history_retention_days"`
	RunHistoryMaxRows        int    `json:"run_history_max_rows"`
	WaitingForUserTimeoutSec int    `json:"waiting_for_user_timeout_sec"`
	LogDir                   string `json:"log_dir"`
}

// MemoryConfig controls the Memory Summary Pipeline.
type MemoryConfig struct {
	AutoloadSummaryDays          int  `json:"autoload_summary_days"`
	RealtimeSummaryTurnThreshold int  `json:"realtime_summary_turn_threshold"`
	SweepIntervalSec             int  `json:"memory_manager_sweep_interval_sec"`
	CompletionDebounceSec        int  `json:"memory_manager_completion_debounce_sec"`
	WorkerPollSec                int  `json:"summary_worker_poll_sec"`
	WorkerMaxJobsPerTick         int  `json:"summary_worker_max_jobs_per_tick"`
	DailySummaryUseModel         bool `json:"daily_summary_use_model"`
}

// SQLGatewayConfig controls the single-writer SQL Gateway.
type SQLGatewayConfig struct {
	BusyTimeoutMs  int `json:"db_queue_busy_timeout_ms"`
	DefaultMaxRows int `json:"db_queue_default_max_rows"`
}

// ProviderQueueConfig controls one provider's outbound-call queue.
type ProviderQueueConfig struct {
	MinIntervalSec   float64 `json:"queue_min_interval_sec"`
	JitterSec        float64 `json:"queue_jitter_sec"`
	MaxRetries       int     `json:"queue_max_retries"`
	RetryBackoffSec  float64 `json:"queue_retry_backoff_sec"`
}

// Defaults applies the daemon's documented defaults to zero-valued fields.
func (c *Config) Defaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8642"
	}
	if c.Central.QueueWarningThreshold == 0 {
		c.Central.QueueWarningThreshold = 20
	}
	if c.Central.RunningAgeWarningSec == 0 {
		c.Central.RunningAgeWarningSec = 900
	}
	if c.Scheduler.HeartbeatPollIntervalSec == 0 {
		c.Scheduler.HeartbeatPollIntervalSec = 30
	}
	if c.Scheduler.DBPath == "" {
		c.Scheduler.DBPath = "memory/central/zubot_core.db"
	}
	if c.Runner.Concurrency == 0 {
		c.Runner.Concurrency = 3
	}
	if c.Runner.RunHistoryRetentionDays == 0 {
		c.Runner.RunHistoryRetentionDays = 30
	}
	if c.Runner.RunHistoryMaxRows == 0 {
		c.Runner.RunHistoryMaxRows = 5000
	}
	if c.Runner.WaitingForUserTimeoutSec == 0 {
		c.Runner.WaitingForUserTimeoutSec = 3600
	}
	if c.Runner.LogDir == "" {
		c.Runner.LogDir = "memory/central/logs"
	}
	if c.Memory.RealtimeSummaryTurnThreshold == 0 {
		c.Memory.RealtimeSummaryTurnThreshold = 40
	}
	if c.Memory.SweepIntervalSec == 0 {
		c.Memory.SweepIntervalSec = 900
	}
	if c.Memory.CompletionDebounceSec == 0 {
		c.Memory.CompletionDebounceSec = 20
	}
	if c.Memory.WorkerPollSec == 0 {
		c.Memory.WorkerPollSec = 5
	}
	if c.Memory.WorkerMaxJobsPerTick == 0 {
		c.Memory.WorkerMaxJobsPerTick = 2
	}
	if c.Memory.AutoloadSummaryDays == 0 {
		c.Memory.AutoloadSummaryDays = 7
	}
	if c.SQL.BusyTimeoutMs == 0 {
		c.SQL.BusyTimeoutMs = 5000
	}
	if c.SQL.DefaultMaxRows == 0 {
		c.SQL.DefaultMaxRows = 500
	}
	for group, p := range c.Providers {
		if p.MaxRetries == 0 {
			p.MaxRetries = 2
		}
		if p.RetryBackoffSec == 0 {
			p.RetryBackoffSec = 1
		}
		c.Providers[group] = p
	}
}
