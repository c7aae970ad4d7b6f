// Package interpreter executes notebook paragraphs against a Presto-compatible
// engine. Each paragraph runs through an ACL gate, streams its rows inline or
// into a spill file, and can be canceled or polled for progress while running.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"presto-notebook/internal/domain"
)

const killTimeout = 10 * time.Second

var errNotOpen = errors.New("interpreter is not open")

// EngineFactory connects to the query engine.
type EngineFactory func() (domain.QueryEngine, error)

// Interpreter is the host-facing entry point. One Interpreter serves every
// note and paragraph of the host process.
type Interpreter struct {
	opts    Options
	factory EngineFactory
	acl     domain.ACLEvaluator
	runs    domain.RunRepository
	logger  *slog.Logger

	sessions *SessionRegistry
	tasks    *TaskRegistry

	mu          sync.Mutex
	engine      domain.QueryEngine
	connErr     error
	sched       *scheduler
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// New creates an Interpreter. acl and runs may be nil; a nil acl denies every
// statement while the ACL is enabled.
func New(opts Options, factory EngineFactory, acl domain.ACLEvaluator, runs domain.RunRepository, logger *slog.Logger) *Interpreter {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		opts:     opts,
		factory:  factory,
		acl:      acl,
		runs:     runs,
		logger:   logger,
		sessions: NewSessionRegistry(opts.Session),
		tasks:    NewTaskRegistry(),
		connErr:  errNotOpen,
	}
}

// Open prepares the result directory, connects to the engine and starts the
// background sweeper and worker pool. A connection failure is not returned:
// it is kept and reported by every later query.
func (in *Interpreter) Open() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.sched != nil {
		return nil
	}

	if err := os.MkdirAll(in.opts.ResultDir, 0o755); err != nil {
		in.logger.Error("create result dir", "dir", in.opts.ResultDir, "error", err)
	}

	engine, err := in.factory()
	if err != nil {
		in.logger.Error("connect to query engine", "server", in.opts.Session.Server, "error", err)
		in.engine, in.connErr = nil, err
	} else {
		in.engine, in.connErr = engine, nil
	}

	sched, err := newScheduler(in.opts.Concurrency, in.logger)
	if err != nil {
		if in.engine != nil {
			_ = in.engine.Close()
			in.engine = nil
		}
		in.connErr = errNotOpen
		return err
	}
	in.sched = sched

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sweeper := NewSweeper(in.tasks, in.opts, in.logger)
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()
	in.stopSweeper, in.sweeperDone = cancel, done

	in.logger.Info("interpreter opened",
		"server", in.opts.Session.Server,
		"catalog", in.opts.Session.Catalog,
		"schema", in.opts.Session.Schema,
		"acl_enabled", in.opts.ACLEnabled,
		"concurrency", in.opts.Concurrency,
	)
	return nil
}

func (in *Interpreter) newStreamer() *streamer {
	in.mu.Lock()
	defer in.mu.Unlock()
	return &streamer{
		engine:   in.engine,
		connErr:  in.connErr,
		sessions: in.sessions,
		opts:     in.opts,
		logger:   in.logger,
	}
}

// Interpret runs sql for the paragraph on the calling goroutine and records
// the run.
func (in *Interpreter) Interpret(ctx context.Context, pctx domain.ParagraphContext, sql string) (*domain.Result, error) {
	sql = strings.TrimSpace(sql)
	started := time.Now()
	logger := in.logger.With("note_id", pctx.NoteID, "paragraph_id", pctx.ParagraphID, "user", pctx.Auth.User)
	logger.Info("run sql", "sql", sql)

	res, err := in.checkACLAndExecute(ctx, in.newStreamer(), pctx, sql)
	if err != nil {
		logger.Warn("paragraph failed", "kind", domain.KindOf(err), "error", err)
	}
	in.recordRun(ctx, pctx, sql, started, res, err)
	return res, err
}

// Submit runs Interpret on the bounded worker pool and waits for it.
func (in *Interpreter) Submit(ctx context.Context, pctx domain.ParagraphContext, sql string) (*domain.Result, error) {
	in.mu.Lock()
	sched := in.sched
	in.mu.Unlock()
	if sched == nil {
		return nil, domain.ErrConnectionUnavailable(errNotOpen)
	}
	return sched.run(func() (*domain.Result, error) {
		return in.Interpret(ctx, pctx, sql)
	})
}

func (in *Interpreter) recordRun(ctx context.Context, pctx domain.ParagraphContext, sql string, started time.Time, res *domain.Result, runErr error) {
	if in.runs == nil || sql == reloadCommand {
		return
	}
	run := &domain.ParagraphRun{
		NoteID:      pctx.NoteID,
		ParagraphID: pctx.ParagraphID,
		UserName:    pctx.Auth.User,
		Statement:   sql,
		Status:      domain.RunStatusSucceeded,
		StartedAt:   started.UTC(),
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if res != nil {
		run.RowsReturned = res.Rows
		run.SpillPath = res.SpillPath
	}
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorKind = string(domain.KindOf(runErr))
		run.ErrorMessage = runErr.Error()
	}
	if err := in.runs.Insert(context.WithoutCancel(ctx), run); err != nil {
		in.logger.Error("record paragraph run", "paragraph_id", pctx.ParagraphID, "error", err)
	}
}

// Cancel stops the query running in the paragraph. It is a no-op when the
// paragraph has no open handle. Engine kill failures are logged only.
func (in *Interpreter) Cancel(pctx domain.ParagraphContext) {
	task, ok := in.tasks.Lookup(pctx.ParagraphID)
	if !ok || !task.hasOpenHandle() {
		return
	}

	in.mu.Lock()
	engine := in.engine
	in.mu.Unlock()

	if id := task.QueryID(); id != "" && engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
		if err := engine.Kill(ctx, id); err != nil {
			in.logger.Error("kill query", "paragraph_id", pctx.ParagraphID, "query_id", id, "error", err)
		} else {
			in.logger.Info("killed query", "paragraph_id", pctx.ParagraphID, "query_id", id)
		}
		cancel()
	}

	task.abort()
	task.Close()
	in.tasks.Remove(pctx.ParagraphID)
}

// Progress returns the paragraph's completion percentage in [0, 100].
func (in *Interpreter) Progress(paragraphID string) int {
	task, ok := in.tasks.Lookup(paragraphID)
	if !ok {
		return 0
	}
	return task.Progress()
}

// SweepOnce runs a single sweeper pass immediately.
func (in *Interpreter) SweepOnce(now time.Time) {
	NewSweeper(in.tasks, in.opts, in.logger).SweepOnce(now)
}

// Close stops the sweeper, closes the engine and every task, and releases
// the worker pool. Calling Close more than once is safe.
func (in *Interpreter) Close() error {
	in.mu.Lock()
	stop, done := in.stopSweeper, in.sweeperDone
	engine := in.engine
	sched := in.sched
	in.stopSweeper, in.sweeperDone = nil, nil
	in.engine, in.sched = nil, nil
	in.connErr = errNotOpen
	in.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	in.tasks.CloseAll()
	in.sessions.Reset()

	var err error
	if engine != nil {
		if cerr := engine.Close(); cerr != nil {
			err = fmt.Errorf("close query engine: %w", cerr)
		}
	}
	if sched != nil {
		sched.release()
	}
	return err
}
