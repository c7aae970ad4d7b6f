// Package engine runs notebook statements against an embedded database.
// LocalEngine exposes a *sql.DB through the same statement-handle contract
// as the remote Presto client, so notebooks work without a coordinator.
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"presto-notebook/internal/domain"
)

// DefaultBatchSize is the number of rows per snapshot.
const DefaultBatchSize = 1000

const localErrorName = "LOCAL_QUERY_ERROR"

// LocalEngine implements domain.QueryEngine over database/sql.
type LocalEngine struct {
	db        *sql.DB
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

var _ domain.QueryEngine = (*LocalEngine)(nil)

// NewLocalEngine wraps db. The engine owns db and closes it on Close.
func NewLocalEngine(db *sql.DB, batchSize int, logger *slog.Logger) *LocalEngine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalEngine{
		db:        db,
		batchSize: batchSize,
		logger:    logger,
		running:   make(map[string]context.CancelFunc),
	}
}

// Start runs sql and returns a handle positioned on the first batch. The
// query is bound to its own context so it survives the caller's ctx; use
// Kill or Close on the handle to stop it.
func (e *LocalEngine) Start(_ context.Context, session *domain.Session, sql string) (domain.StatementHandle, error) {
	id := newQueryID()
	qctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()

	user := ""
	if session != nil {
		user = session.ClientInfo
	}
	e.logger.Debug("local query started", "query_id", id, "client", user)

	h := &localHandle{engine: e, id: id, cancel: cancel, batchSize: e.batchSize}
	rows, err := e.db.QueryContext(qctx, sql)
	if err != nil {
		h.current = failedSnapshot(id, err)
		h.drained = true
		e.forget(id)
		cancel()
		return h, nil
	}
	h.rows = rows
	if err := h.init(); err != nil {
		h.current = failedSnapshot(id, err)
		h.drained = true
		h.release()
	}
	return h, nil
}

// Kill cancels a running local query.
func (e *LocalEngine) Kill(_ context.Context, queryID string) error {
	e.mu.Lock()
	cancel, ok := e.running[queryID]
	e.mu.Unlock()
	if !ok {
		return domain.ErrNotFound("query %q not found", queryID)
	}
	cancel()
	return nil
}

// Close cancels every running query and closes the database once.
func (e *LocalEngine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		for id, cancel := range e.running {
			cancel()
			delete(e.running, id)
		}
		e.mu.Unlock()
		e.closeErr = e.db.Close()
	})
	return e.closeErr
}

func (e *LocalEngine) forget(id string) {
	e.mu.Lock()
	delete(e.running, id)
	e.mu.Unlock()
}

func newQueryID() string {
	return time.Now().UTC().Format("20060102_150405") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func failedSnapshot(id string, err error) *domain.QueryResults {
	return &domain.QueryResults{
		ID:    id,
		Stats: domain.StatementStats{State: "FAILED", TotalSplits: 1},
		Error: &domain.EngineError{Message: err.Error(), ErrorName: localErrorName, ErrorType: "USER_ERROR"},
	}
}

// localHandle reads a *sql.Rows in batches.
type localHandle struct {
	engine    *LocalEngine
	id        string
	cancel    context.CancelFunc
	batchSize int

	mu      sync.Mutex
	rows    *sql.Rows
	columns []domain.Column
	current *domain.QueryResults
	read    int64
	drained bool
	valid   bool
	closed  bool
}

var _ domain.StatementHandle = (*localHandle)(nil)

func (h *localHandle) init() error {
	types, err := h.rows.ColumnTypes()
	if err != nil {
		return err
	}
	if len(types) > 0 {
		h.columns = make([]domain.Column, len(types))
		for i, ct := range types {
			h.columns[i] = domain.Column{Name: ct.Name(), Type: strings.ToLower(ct.DatabaseTypeName())}
		}
	}
	h.valid = true
	h.current = h.nextBatch()
	return nil
}

// nextBatch reads up to batchSize rows. The caller holds mu or owns h.
func (h *localHandle) nextBatch() *domain.QueryResults {
	snap := &domain.QueryResults{ID: h.id, Columns: h.columns}
	var data [][]interface{}
	for len(data) < h.batchSize && h.rows.Next() {
		row, err := scanRow(h.rows, len(h.columns))
		if err != nil {
			h.drained = true
			h.release()
			return failedSnapshot(h.id, err)
		}
		data = append(data, row)
	}
	h.read += int64(len(data))
	snap.Data = data

	if len(data) < h.batchSize {
		h.drained = true
		if err := h.rows.Err(); err != nil {
			h.release()
			return failedSnapshot(h.id, err)
		}
		h.release()
		snap.Stats = domain.StatementStats{State: "FINISHED", TotalSplits: 1, CompletedSplits: 1, ProcessedRows: h.read}
		return snap
	}
	snap.Stats = domain.StatementStats{State: "RUNNING", Scheduled: true, Nodes: 1, TotalSplits: 1, RunningSplits: 1, ProcessedRows: h.read}
	return snap
}

func scanRow(rows *sql.Rows, n int) ([]interface{}, error) {
	values := make([]interface{}, n)
	ptrs := make([]interface{}, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

// release closes the rows and unregisters the query. The caller holds mu or owns h.
func (h *localHandle) release() {
	if h.rows != nil {
		_ = h.rows.Close()
		h.rows = nil
	}
	h.cancel()
	h.engine.forget(h.id)
}

func (h *localHandle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.valid && !h.closed
}

func (h *localHandle) Current() *domain.QueryResults {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *localHandle) IsFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.Error != nil
}

func (h *localHandle) FinalResults() *domain.QueryResults {
	return h.Current()
}

func (h *localHandle) Advance(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || !h.valid {
		return nil
	}
	if h.drained {
		h.valid = false
		return nil
	}
	h.current = h.nextBatch()
	return nil
}

func (h *localHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.release()
	return nil
}
