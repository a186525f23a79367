package central

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	rtsup "zubot/internal/runtime/supervisor"
	"zubot/internal/store"
)

// loopFailureWarningThreshold is how many consecutive failures a supervised
// background loop can accumulate before Status surfaces it as a warning.
const loopFailureWarningThreshold = 3

// Status is the payload for GET /api/central/status.
type Status struct {
	Running        bool                  `json:"running"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	Uptime         float64               `json:"uptime_sec"`
	UptimeHuman    string                `json:"uptime_human,omitempty"`
	Heartbeat      *store.HeartbeatState `json:"heartbeat,omitempty"`
	SQL            any                   `json:"sql_gateway"`
	Warnings       []string              `json:"warnings,omitempty"`
	Concurrency    int                   `json:"concurrency"`
	LogDirBytes    int64                 `json:"log_dir_bytes"`
	LogDirHuman    string                `json:"log_dir_human"`
	Loops          rtsup.SupervisorSnapshot `json:"loops"`
}

// Snapshot builds a Status from live component state.
func (s *Service) Snapshot(ctx context.Context) Status {
	s.mu.Lock()
	running := s.stopCh != nil && s.stopDone == nil
	startedAt := s.startedAt
	s.mu.Unlock()

	logDirBytes := dirSize(s.cfg.Runner.LogDir)
	st := Status{
		Running:     running,
		SQL:         s.SQL.Health(),
		Concurrency: s.cfg.Runner.Concurrency,
		LogDirBytes: logDirBytes,
		LogDirHuman: humanize.Bytes(uint64(logDirBytes)),
	}
	if running {
		st.StartedAt = &startedAt
		st.Uptime = time.Since(startedAt).Seconds()
		st.UptimeHuman = humanize.RelTime(startedAt, time.Now(), "ago", "from now")
	}
	st.Loops = s.SupervisorSnapshot()
	for _, g := range st.Loops.Goroutines {
		if g.ConsecutiveFailures >= loopFailureWarningThreshold {
			st.Warnings = append(st.Warnings, fmt.Sprintf("background loop %q has failed %d times in a row", g.Name, g.ConsecutiveFailures))
		}
	}
	if hb, err := s.Store.GetHeartbeatState(ctx); err == nil {
		st.Heartbeat = hb
	}

	metrics, err := s.Metrics(ctx)
	if err == nil {
		if metrics.QueueDepth >= s.cfg.Central.QueueWarningThreshold && s.cfg.Central.QueueWarningThreshold > 0 {
			st.Warnings = append(st.Warnings, "queue depth above warning threshold")
		}
		if s.cfg.Central.RunningAgeWarningSec > 0 && metrics.LongestRunningAgeSec > float64(s.cfg.Central.RunningAgeWarningSec) {
			st.Warnings = append(st.Warnings, "a running task has exceeded the running-age warning threshold")
		}
	}
	return st
}

// Metrics is the payload for GET /api/central/metrics: queue depth,
// oldest-queued age, longest-running age, and waiting counts.
type Metrics struct {
	QueueDepth           int     `json:"queue_depth"`
	OldestQueuedAgeSec   float64 `json:"oldest_queued_age_sec"`
	OldestQueuedHuman    string  `json:"oldest_queued_human,omitempty"`
	LongestRunningAgeSec float64 `json:"longest_running_age_sec"`
	LongestRunningHuman  string  `json:"longest_running_human,omitempty"`
	WaitingForUserCount  int     `json:"waiting_for_user_count"`
}

func (s *Service) Metrics(ctx context.Context) (Metrics, error) {
	now := time.Now()
	var m Metrics

	queued, err := s.Store.ListQueuedRuns(ctx, 100000)
	if err != nil {
		return m, err
	}
	m.QueueDepth = len(queued)
	if len(queued) > 0 {
		m.OldestQueuedAgeSec = now.Sub(queued[0].QueuedAt).Seconds()
		m.OldestQueuedHuman = humanize.RelTime(queued[0].QueuedAt, now, "ago", "from now")
	}

	waiting, err := s.Store.ListWaitingForUserRuns(ctx)
	if err != nil {
		return m, err
	}
	m.WaitingForUserCount = len(waiting)

	profiles, err := s.Store.ListTaskProfiles(ctx)
	if err != nil {
		return m, err
	}
	var longest float64
	var longestStarted time.Time
	for _, p := range profiles {
		active, err := s.Store.ListActiveRunsByProfile(ctx, p.TaskID)
		if err != nil {
			continue
		}
		for _, r := range active {
			if r.Status != store.RunRunning || r.StartedAt == nil {
				continue
			}
			age := now.Sub(*r.StartedAt).Seconds()
			if age > longest {
				longest = age
				longestStarted = *r.StartedAt
			}
		}
	}
	m.LongestRunningAgeSec = longest
	if !longestStarted.IsZero() {
		m.LongestRunningHuman = humanize.RelTime(longestStarted, now, "ago", "from now")
	}
	return m, nil
}

// dirSize sums the size of every regular file under dir. It returns 0 for a
// dir that doesn't exist yet (e.g. before the Runner has written any logs).
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
