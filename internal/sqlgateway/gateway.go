// Package sqlgateway serializes ad hoc SQL access — the daemon's escape
// hatch for inspection and scripted maintenance — through a single
// request/reply queue, so callers never contend directly for the shared
// database handle.
package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "zubot/pkg/logx"
)

var readOnlyVerbs = map[string]bool{
	"select":  true,
	"pragma":  true,
	"explain": true,
	"with":    true,
}

func isReadOnlySQL(sql string) bool {
	head := strings.ToLower(strings.TrimSpace(sql))
	if head == "" {
		return false
	}
	if i := strings.IndexAny(head, " \t\n"); i >= 0 {
		head = head[:i]
	}
	return readOnlyVerbs[head]
}

// Result is the outcome of a single Execute call.
type Result struct {
	OK           bool
	RequestID    string
	Mode         string // "read" or "write"
	Rows         []map[string]any
	RowCount     int
	RowsAffected int64
	Truncated    bool
	Error        string
}

type request struct {
	id         string
	sql        string
	params     []any
	readOnly   bool
	maxRows    int
	done       chan struct{}
	result     Result
}

// Gateway is a single-goroutine SQL executor bound to a shared *sql.DB.
type Gateway struct {
	db  *sql.DB
	log logx.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	reqCh chan *request

	counter   atomic.Uint64
	lastError atomic.Value // string

	defaultMaxRows    int
	defaultTimeoutSec float64
}

// Config controls default row/timeout limits for callers that don't specify one.
type Config struct {
	DefaultMaxRows    int
	DefaultTimeoutSec float64
}

// New creates a Gateway over db. Call Start before the first Execute.
func New(db *sql.DB, cfg Config, log logx.Logger) *Gateway {
	if cfg.DefaultMaxRows <= 0 {
		cfg.DefaultMaxRows = 500
	}
	if cfg.DefaultTimeoutSec <= 0 {
		cfg.DefaultTimeoutSec = 5.0
	}
	g := &Gateway{
		db:                db,
		log:               log,
		reqCh:             make(chan *request, 64),
		defaultMaxRows:    cfg.DefaultMaxRows,
		defaultTimeoutSec: cfg.DefaultTimeoutSec,
	}
	g.lastError.Store("")
	return g
}

// Start launches the serialized executor loop. Safe to call more than once.
func (g *Gateway) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.stopCh = make(chan struct{})
	g.running = true
	g.wg.Add(1)
	go g.runLoop(g.stopCh)
}

// Stop halts the executor loop and waits for it to exit.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	close(g.stopCh)
	g.running = false
	g.mu.Unlock()
	g.wg.Wait()
}

// Health reports the gateway's operating state for the Control API.
type Health struct {
	Running   bool
	QueueDepth int
	LastError string
}

func (g *Gateway) Health() Health {
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	return Health{
		Running:    running,
		QueueDepth: len(g.reqCh),
		LastError:  g.lastError.Load().(string),
	}
}

// Execute submits sql for serialized execution and blocks until it
// completes or timeoutSec elapses. A timeout is safe to abandon: the
// executor still owns and eventually finishes the request, it simply
// stops being observed by this caller.
func (g *Gateway) Execute(ctx context.Context, rawSQL string, params []any, readOnly bool, timeoutSec float64, maxRows int) (Result, error) {
	clean := strings.TrimSpace(rawSQL)
	if clean == "" {
		return Result{}, fmt.Errorf("sqlgateway: sql is required")
	}
	if readOnly && !isReadOnlySQL(clean) {
		return Result{}, fmt.Errorf("sqlgateway: read_only query must be SELECT/PRAGMA/EXPLAIN/WITH")
	}
	if timeoutSec <= 0 {
		timeoutSec = g.defaultTimeoutSec
	}
	if maxRows <= 0 {
		maxRows = g.defaultMaxRows
	}

	g.Start()

	id := fmt.Sprintf("sqlq_%d", g.counter.Add(1))
	req := &request{
		id:       id,
		sql:      clean,
		params:   params,
		readOnly: readOnly,
		maxRows:  maxRows,
		done:     make(chan struct{}),
	}

	select {
	case g.reqCh <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	timer := time.NewTimer(time.Duration(timeoutSec * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-req.done:
		return req.result, nil
	case <-timer.C:
		return Result{OK: false, RequestID: id, Error: "sql_queue_timeout"}, nil
	case <-ctx.Done():
		return Result{OK: false, RequestID: id, Error: ctx.Err().Error()}, nil
	}
}

func (g *Gateway) runLoop(stop chan struct{}) {
	defer g.wg.Done()
	for {
		select {
		case <-stop:
			return
		case req := <-g.reqCh:
			req.result = g.executeRequest(req)
			close(req.done)
		}
	}
}

func (g *Gateway) executeRequest(req *request) Result {
	ctx := context.Background()
	if req.readOnly {
		rows, err := g.db.QueryContext(ctx, req.sql, req.params...)
		if err != nil {
			g.lastError.Store(err.Error())
			return Result{OK: false, RequestID: req.id, Error: err.Error()}
		}
		defer rows.Close()

		out, truncated, err := scanRows(rows, req.maxRows)
		if err != nil {
			g.lastError.Store(err.Error())
			return Result{OK: false, RequestID: req.id, Error: err.Error()}
		}
		return Result{
			OK:        true,
			RequestID: req.id,
			Mode:      "read",
			Rows:      out,
			RowCount:  len(out),
			Truncated: truncated,
		}
	}

	res, err := g.db.ExecContext(ctx, req.sql, req.params...)
	if err != nil {
		g.lastError.Store(err.Error())
		return Result{OK: false, RequestID: req.id, Error: err.Error()}
	}
	affected, _ := res.RowsAffected()
	return Result{
		OK:           true,
		RequestID:    req.id,
		Mode:         "write",
		Rows:         []map[string]any{},
		RowsAffected: affected,
	}
}

func scanRows(rows *sql.Rows, maxRows int) ([]map[string]any, bool, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, false, fmt.Errorf("sqlgateway: columns: %w", err)
	}

	out := make([]map[string]any, 0, maxRows)
	truncated := false
	for rows.Next() {
		if len(out) >= maxRows {
			truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, false, fmt.Errorf("sqlgateway: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("sqlgateway: rows: %w", err)
	}
	return out, truncated, nil
}
