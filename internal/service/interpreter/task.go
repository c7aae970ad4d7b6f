package interpreter

import (
	"context"
	"sync"
	"time"

	"presto-notebook/internal/domain"
)

// phase selects which slot of a Task a streamed query occupies.
type phase int

const (
	phasePlan phase = iota
	phaseExecute
)

func (p phase) String() string {
	if p == phasePlan {
		return "plan"
	}
	return "execute"
}

// Task is the mutable execution state of the query currently (or last) running
// in one paragraph.
type Task struct {
	mu          sync.Mutex
	planHandle  domain.StatementHandle
	queryHandle domain.StatementHandle
	planResult  *domain.QueryResults
	queryResult *domain.QueryResults
	reporting   bool
	canceled    bool
	createdAt   time.Time
	lastUsed    time.Time
	abortRun    context.CancelFunc

	// running holds a token while a run owns the task's handles.
	running chan struct{}
}

func newTask(now time.Time) *Task {
	return &Task{createdAt: now, lastUsed: now, running: make(chan struct{}, 1)}
}

// acquireRun blocks until no other run owns the task or ctx ends.
func (t *Task) acquireRun(ctx context.Context) error {
	select {
	case t.running <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) releaseRun() {
	<-t.running
}

// beginRun resets per-run flags and binds the cancel func of the run's context.
func (t *Task) beginRun(abort context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reporting = false
	t.canceled = false
	t.abortRun = abort
}

func (t *Task) touch(now time.Time) {
	t.mu.Lock()
	t.lastUsed = now
	t.mu.Unlock()
}

func (t *Task) idleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUsed
}

func (t *Task) setHandle(p phase, h domain.StatementHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p == phasePlan {
		t.planHandle = h
	} else {
		t.queryHandle = h
	}
}

func (t *Task) setResult(p phase, r *domain.QueryResults) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p == phasePlan {
		t.planResult = r
	} else {
		t.queryResult = r
	}
}

func (t *Task) enableReporting() {
	t.mu.Lock()
	t.reporting = true
	t.mu.Unlock()
}

func (t *Task) cancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

func (t *Task) hasOpenHandle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.planHandle != nil || t.queryHandle != nil
}

// QueryID returns the id to cancel on the engine: the execute-phase query if
// one was observed, else the plan-phase query, else "".
func (t *Task) QueryID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queryResult != nil {
		return t.queryResult.ID
	}
	if t.planResult != nil {
		return t.planResult.ID
	}
	return ""
}

// Progress is floor(100 * completed / total) of the last execute-phase snapshot.
func (t *Task) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.reporting || t.queryResult == nil {
		return 0
	}
	stats := t.queryResult.Stats
	if stats.TotalSplits == 0 {
		return 0
	}
	return 100 * stats.CompletedSplits / stats.TotalSplits
}

// abort cancels the context of the run currently bound to the task.
func (t *Task) abort() {
	t.mu.Lock()
	fn := t.abortRun
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close releases both handles. It is idempotent and never fails; handle close
// errors are dropped.
func (t *Task) Close() {
	t.mu.Lock()
	t.reporting = false
	t.canceled = true
	plan, query := t.planHandle, t.queryHandle
	t.planHandle, t.queryHandle = nil, nil
	t.mu.Unlock()

	if plan != nil {
		_ = plan.Close()
	}
	if query != nil {
		_ = query.Close()
	}
}
