package store

const schemaDDL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS task_profile (
	task_id         TEXT PRIMARY KEY,
	kind            TEXT NOT NULL CHECK (kind IN ('script','agentic','interactive_wrapper')),
	entrypoint_path TEXT NOT NULL DEFAULT '',
	module          TEXT NOT NULL DEFAULT '',
	queue_group     TEXT NOT NULL DEFAULT '',
	timeout_sec     INTEGER NOT NULL DEFAULT 0,
	retry_policy    TEXT NOT NULL DEFAULT '',
	enabled         INTEGER NOT NULL DEFAULT 1,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS schedule (
	schedule_id            TEXT PRIMARY KEY,
	profile_id             TEXT NOT NULL REFERENCES task_profile(task_id) ON DELETE CASCADE,
	enabled                INTEGER NOT NULL DEFAULT 1,
	mode                   TEXT NOT NULL CHECK (mode IN ('frequency','calendar')),
	run_frequency_minutes  INTEGER NOT NULL DEFAULT 0,
	times_of_day_json      TEXT NOT NULL DEFAULT '[]',
	timezone               TEXT NOT NULL DEFAULT 'UTC',
	days_of_week_json      TEXT NOT NULL DEFAULT '[]',
	misfire_policy         TEXT NOT NULL DEFAULT 'queue_latest' CHECK (misfire_policy IN ('queue_all','queue_latest','skip')),
	execution_order        INTEGER NOT NULL DEFAULT 0,
	next_run_at            TEXT,
	last_planned_run_at    TEXT,
	last_run_id            TEXT NOT NULL DEFAULT '',
	last_run_status        TEXT NOT NULL DEFAULT '',
	last_run_finished_at   TEXT,
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_schedule_profile ON schedule(profile_id);
CREATE INDEX IF NOT EXISTS idx_schedule_due ON schedule(enabled, next_run_at);

CREATE TABLE IF NOT EXISTS run (
	run_id          TEXT PRIMARY KEY,
	schedule_id     TEXT REFERENCES schedule(schedule_id) ON DELETE SET NULL,
	profile_id      TEXT NOT NULL REFERENCES task_profile(task_id) ON DELETE CASCADE,
	status          TEXT NOT NULL CHECK (status IN ('queued','running','waiting_for_user','done','failed','blocked')),
	planned_fire_at TEXT,
	queued_at       TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT,
	summary         TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	payload_json    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_status_queued ON run(status, queued_at);
CREATE INDEX IF NOT EXISTS idx_run_profile_status ON run(profile_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS uq_run_schedule_fire
	ON run(schedule_id, planned_fire_at) WHERE schedule_id IS NOT NULL AND planned_fire_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS run_history (
	run_id          TEXT PRIMARY KEY,
	schedule_id     TEXT,
	profile_id      TEXT NOT NULL,
	status          TEXT NOT NULL,
	planned_fire_at TEXT,
	queued_at       TEXT NOT NULL,
	started_at      TEXT,
	finished_at     TEXT NOT NULL,
	summary         TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	payload_json    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_run_history_profile_finished ON run_history(profile_id, finished_at);

CREATE TABLE IF NOT EXISTS task_seen_item (
	task_id       TEXT NOT NULL,
	provider      TEXT NOT NULL,
	item_key      TEXT NOT NULL,
	first_seen_at TEXT NOT NULL,
	last_seen_at  TEXT NOT NULL,
	seen_count    INTEGER NOT NULL DEFAULT 1,
	metadata_json TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (task_id, provider, item_key)
);

CREATE INDEX IF NOT EXISTS idx_seen_item_recency ON task_seen_item(task_id, provider, first_seen_at DESC);

CREATE TABLE IF NOT EXISTS task_state_kv (
	task_id    TEXT NOT NULL,
	state_key  TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (task_id, state_key)
);

CREATE TABLE IF NOT EXISTS day_memory_event (
	event_id   TEXT PRIMARY KEY,
	day        TEXT NOT NULL,
	event_time TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL CHECK (kind IN ('user','main_agent','task_agent_event')),
	text       TEXT NOT NULL DEFAULT '',
	layer      TEXT NOT NULL DEFAULT 'raw' CHECK (layer IN ('raw','summary'))
);

CREATE INDEX IF NOT EXISTS idx_day_memory_event_day ON day_memory_event(day, event_time);

CREATE TABLE IF NOT EXISTS day_memory_status (
	day                          TEXT PRIMARY KEY,
	total_messages               INTEGER NOT NULL DEFAULT 0,
	last_summarized_total        INTEGER NOT NULL DEFAULT 0,
	messages_since_last_summary  INTEGER NOT NULL DEFAULT 0,
	summaries_count              INTEGER NOT NULL DEFAULT 0,
	is_finalized                 INTEGER NOT NULL DEFAULT 0,
	last_event_at                TEXT,
	last_summary_at              TEXT
);

CREATE TABLE IF NOT EXISTS summary_job (
	job_id        TEXT PRIMARY KEY,
	day           TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
	reason        TEXT NOT NULL DEFAULT '',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_summary_job_active_day
	ON summary_job(day) WHERE status IN ('queued','running');

CREATE TABLE IF NOT EXISTS day_summary (
	day        TEXT PRIMARY KEY,
	text       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS heartbeat_state (
	name                 TEXT PRIMARY KEY,
	last_start_at        TEXT,
	last_finish_at       TEXT,
	last_status          TEXT NOT NULL DEFAULT '',
	last_error           TEXT NOT NULL DEFAULT '',
	last_enqueued_count  INTEGER NOT NULL DEFAULT 0
);
`
