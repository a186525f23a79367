package config

import (
	"reflect"
	"sort"

	logx "zubot/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed top-level sections
// and safe structured attrs for logging. No field here can carry a secret
// (this daemon's config has none), but the section-name-only diff discipline
// is kept so a future secret-bearing section stays safe by default.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.Central, newCfg.Central) {
		changed = append(changed, "central_service")
		attrs = append(attrs, logx.Bool("central_service.enabled", newCfg.Central.Enabled))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Int("scheduler.heartbeat_poll_interval_sec", newCfg.Scheduler.HeartbeatPollIntervalSec))
	}
	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		changed = append(changed, "task_runner")
		attrs = append(attrs, logx.Int("task_runner.concurrency", newCfg.Runner.Concurrency))
	}
	if !reflect.DeepEqual(oldCfg.Memory, newCfg.Memory) {
		changed = append(changed, "memory")
		attrs = append(attrs, logx.Int("memory.summary_worker_poll_sec", newCfg.Memory.WorkerPollSec))
	}
	if !reflect.DeepEqual(oldCfg.SQL, newCfg.SQL) {
		changed = append(changed, "db_queue")
		attrs = append(attrs, logx.Int("db_queue.default_max_rows", newCfg.SQL.DefaultMaxRows))
	}
	if !reflect.DeepEqual(oldCfg.Providers, newCfg.Providers) {
		changed = append(changed, "providers")
		attrs = append(attrs, logx.Int("providers.count", len(newCfg.Providers)))
	}

	sort.Strings(changed)
	return changed, attrs
}
