package interpreter

import (
	"context"
	"sync"
	"time"
)

// TaskRegistry maps paragraph ids to their Task. It is shared by the paragraph
// workers, cancel calls and the sweeper.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks: make(map[string]*Task),
		now:   time.Now,
	}
}

// GetOrCreate returns the paragraph's task, creating it on first use, and
// marks it as used now.
func (r *TaskRegistry) GetOrCreate(paragraphID string) *Task {
	now := r.now()

	r.mu.Lock()
	t, ok := r.tasks[paragraphID]
	if !ok {
		t = newTask(now)
		r.tasks[paragraphID] = t
	}
	r.mu.Unlock()

	if ok {
		t.touch(now)
	}
	return t
}

// Claim returns the paragraph's task once the caller owns its run slot. A
// task that was canceled or evicted while the caller waited is skipped in
// favor of the paragraph's current one. The caller must call releaseRun.
func (r *TaskRegistry) Claim(ctx context.Context, paragraphID string) (*Task, error) {
	for {
		t := r.GetOrCreate(paragraphID)
		if err := t.acquireRun(ctx); err != nil {
			return nil, err
		}
		if cur, ok := r.Lookup(paragraphID); ok && cur == t {
			return t, nil
		}
		t.releaseRun()
	}
}

// Lookup returns the paragraph's task without creating one.
func (r *TaskRegistry) Lookup(paragraphID string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[paragraphID]
	return t, ok
}

// Remove drops the paragraph's entry. The task itself is not closed.
func (r *TaskRegistry) Remove(paragraphID string) {
	r.mu.Lock()
	delete(r.tasks, paragraphID)
	r.mu.Unlock()
}

// Len returns the number of tracked paragraphs.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Expire evicts tasks idle longer than ttl and closes them. Handles are closed
// after the map lock is released. Returns the evicted paragraph ids.
func (r *TaskRegistry) Expire(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	var (
		ids   []string
		stale []*Task
	)
	for id, t := range r.tasks {
		if now.Sub(t.idleSince()) > ttl {
			ids = append(ids, id)
			stale = append(stale, t)
			delete(r.tasks, id)
		}
	}
	r.mu.Unlock()

	for _, t := range stale {
		t.Close()
	}
	return ids
}

// CloseAll closes every task and clears the registry.
func (r *TaskRegistry) CloseAll() {
	r.mu.Lock()
	all := make([]*Task, 0, len(r.tasks))
	for id, t := range r.tasks {
		all = append(all, t)
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	for _, t := range all {
		t.Close()
	}
}
