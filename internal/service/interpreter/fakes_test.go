package interpreter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"presto-notebook/internal/domain"
)

// fakeHandle replays a fixed list of snapshots.
type fakeHandle struct {
	mu         sync.Mutex
	snaps      []*domain.QueryResults
	idx        int
	closed     bool
	closeCalls int
	advanceFn  func(ctx context.Context, idx int) error
}

func newFakeHandle(snaps ...*domain.QueryResults) *fakeHandle {
	return &fakeHandle{snaps: snaps}
}

func (h *fakeHandle) IsValid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && h.idx < len(h.snaps)
}

func (h *fakeHandle) Current() *domain.QueryResults {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.idx >= len(h.snaps) {
		return h.snaps[len(h.snaps)-1]
	}
	return h.snaps[h.idx]
}

func (h *fakeHandle) Advance(ctx context.Context) error {
	h.mu.Lock()
	idx, fn := h.idx, h.advanceFn
	h.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, idx); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.idx++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) IsFailed() bool { return h.Current().Error != nil }

func (h *fakeHandle) FinalResults() *domain.QueryResults {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snaps[len(h.snaps)-1]
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.closeCalls++
	return nil
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCalls
}

var _ domain.StatementHandle = (*fakeHandle)(nil)

// fakeEngine implements domain.QueryEngine for testing.
type fakeEngine struct {
	mu         sync.Mutex
	startFn    func(ctx context.Context, session *domain.Session, sql string) (domain.StatementHandle, error)
	killErr    error
	started    []string
	killed     []string
	sessions   []*domain.Session
	closeCalls int
}

func (e *fakeEngine) Start(ctx context.Context, session *domain.Session, sql string) (domain.StatementHandle, error) {
	e.mu.Lock()
	e.started = append(e.started, sql)
	e.sessions = append(e.sessions, session)
	fn := e.startFn
	e.mu.Unlock()
	if fn == nil {
		panic("unexpected call to fakeEngine.Start: " + sql)
	}
	return fn(ctx, session, sql)
}

func (e *fakeEngine) Kill(_ context.Context, queryID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.killed = append(e.killed, queryID)
	return e.killErr
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCalls++
	return nil
}

func (e *fakeEngine) startedSQL() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.started...)
}

func (e *fakeEngine) killedIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.killed...)
}

var _ domain.QueryEngine = (*fakeEngine)(nil)

// fakeACL implements domain.ACLEvaluator for testing.
type fakeACL struct {
	mu        sync.Mutex
	checkFn   func(sql, plan, principal string) (domain.ACLResult, string, error)
	reloadErr error
	reloads   int
	checked   []string
	plans     []string
}

func (a *fakeACL) CheckACL(sql, plan, principal string) (domain.ACLResult, string, error) {
	a.mu.Lock()
	a.checked = append(a.checked, principal)
	a.plans = append(a.plans, plan)
	fn := a.checkFn
	a.mu.Unlock()
	if fn == nil {
		return domain.ACLAllow, "", nil
	}
	return fn(sql, plan, principal)
}

func (a *fakeACL) Reload() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reloads++
	return a.reloadErr
}

var _ domain.ACLEvaluator = (*fakeACL)(nil)

// fakeRuns implements domain.RunRepository in memory.
type fakeRuns struct {
	mu   sync.Mutex
	runs []domain.ParagraphRun
}

func (r *fakeRuns) Insert(_ context.Context, run *domain.ParagraphRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.ID = int64(len(r.runs) + 1)
	r.runs = append(r.runs, *run)
	return nil
}

func (r *fakeRuns) ListByParagraph(_ context.Context, noteID, paragraphID string, limit int) ([]domain.ParagraphRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ParagraphRun
	for i := len(r.runs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.runs[i].NoteID == noteID && r.runs[i].ParagraphID == paragraphID {
			out = append(out, r.runs[i])
		}
	}
	return out, nil
}

func (r *fakeRuns) all() []domain.ParagraphRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ParagraphRun(nil), r.runs...)
}

// === helpers ===

func columns(names ...string) []domain.Column {
	cols := make([]domain.Column, len(names))
	for i, n := range names {
		cols[i] = domain.Column{Name: n, Type: "varchar"}
	}
	return cols
}

// numberedRows returns rows {i, "r<i>"} for i in [from, to].
func numberedRows(from, to int) [][]interface{} {
	var out [][]interface{}
	for i := from; i <= to; i++ {
		out = append(out, []interface{}{i, fmt.Sprintf("r%d", i)})
	}
	return out
}

func snapshot(id string, cols []domain.Column, data [][]interface{}) *domain.QueryResults {
	return &domain.QueryResults{ID: id, Columns: cols, Data: data, Stats: domain.StatementStats{State: "FINISHED"}}
}

// planHandle is the EXPLAIN result for a scan of table.
func planHandle(table string) *fakeHandle {
	return newFakeHandle(snapshot("q-plan", columns("Query Plan"),
		[][]interface{}{{"- Output[a]\n    - TableScan[" + table + "]"}}))
}

func testParagraph(principals ...string) domain.ParagraphContext {
	return domain.ParagraphContext{
		NoteID:      "note1",
		ParagraphID: "para1",
		Auth:        domain.AuthInfo{User: "alice", Principals: principals},
	}
}

// setupInterpreter opens an Interpreter over engine with small row limits.
func setupInterpreter(t *testing.T, engine *fakeEngine, acl domain.ACLEvaluator, mutate func(*Options)) (*Interpreter, *fakeRuns) {
	t.Helper()
	opts := Options{
		MaxInlineRows: 3,
		MaxSpillRows:  100,
		MaxLimit:      100000,
		ResultDir:     t.TempDir(),
		ACLEnabled:    true,
		Concurrency:   2,
		Session:       SessionConfig{Server: "http://presto:9090", User: "presto", Catalog: "hive", Schema: "default"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	runs := &fakeRuns{}
	in := New(opts, func() (domain.QueryEngine, error) { return engine, nil }, acl, runs, nil)
	require.NoError(t, in.Open())
	t.Cleanup(func() { _ = in.Close() })
	return in, runs
}

// scripted returns a startFn that hands out plan for explain statements and
// query for everything else.
func scripted(plan, query func() *fakeHandle) func(context.Context, *domain.Session, string) (domain.StatementHandle, error) {
	return func(_ context.Context, _ *domain.Session, sql string) (domain.StatementHandle, error) {
		if classify(sql).isExplain() {
			return plan(), nil
		}
		return query(), nil
	}
}
