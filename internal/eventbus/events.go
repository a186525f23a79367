package eventbus

// Run lifecycle events, published by the dispatcher, the heartbeat, and the
// Control API's manual trigger/kill/resume handlers. The memory ingestor
// (internal/central/memory_ingest.go) is the canonical consumer of this set.
const (
	RunQueued         EventType = "run.queued"
	RunStarted        EventType = "run.started"
	RunFinished       EventType = "run.finished"
	RunFailed         EventType = "run.failed"
	RunBlocked        EventType = "run.blocked"
	RunWaiting        EventType = "run.waiting"
	RunWaitingTimeout EventType = "run.waiting_timeout"
	RunResumed        EventType = "run.resumed"
)

// Heartbeat events, published once per tick by the scheduler.
const (
	HeartbeatEnqueued EventType = "heartbeat.enqueued"
)
