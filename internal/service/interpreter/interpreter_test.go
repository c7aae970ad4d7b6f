package interpreter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presto-notebook/internal/domain"
)

const selectSQL = "select a, b from t limit 10"

func TestInterpreter_Interpret(t *testing.T) {
	t.Run("plans then executes allowed statement", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(
			func() *fakeHandle { return planHandle("hive:default:t") },
			func() *fakeHandle {
				return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 2)))
			},
		)
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, nil)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, domain.ResultTypeTable, res.Type)
		assert.Equal(t, "%table a\tb\n1\tr1\n2\tr2\n", res.Message)
		assert.Equal(t, 2, res.Rows)
		assert.Empty(t, res.SpillPath)

		assert.Equal(t, []string{"explain " + selectSQL, selectSQL}, engine.startedSQL())
		require.Len(t, acl.plans, 1)
		assert.Equal(t, "- Output[a]\n    - TableScan[hive:default:t]", acl.plans[0])
	})

	t.Run("empty result renders header", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(
			func() *fakeHandle { return planHandle("t") },
			func() *fakeHandle { return newFakeHandle(snapshot("q-exec", columns("a", "b"), nil)) },
		)
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, "%table a\tb\n", res.Message)
		assert.Equal(t, 0, res.Rows)
	})

	t.Run("empty statement", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

		_, err := in.Interpret(context.Background(), testParagraph("alice"), "   ")
		require.Error(t, err)
		assert.Equal(t, domain.KindEmptyQuery, domain.KindOf(err))
		assert.Equal(t, "No query", err.Error())
		assert.Empty(t, engine.startedSQL())
	})

	t.Run("missing limit never contacts engine", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

		_, err := in.Interpret(context.Background(), testParagraph("alice"), "select * from t")
		require.Error(t, err)
		assert.Equal(t, domain.KindMissingOrExcessiveLimit, domain.KindOf(err))
		assert.Empty(t, engine.startedSQL())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

		_, err := in.Interpret(context.Background(), testParagraph(), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindUnauthenticated, domain.KindOf(err))
		assert.Equal(t, "Not login user.", err.Error())
		assert.Empty(t, engine.startedSQL())
	})

	t.Run("explain runs directly as text", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(func() *fakeHandle { return planHandle("t") }, nil)
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, nil)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), "explain select 1")
		require.NoError(t, err)
		assert.Equal(t, domain.ResultTypeText, res.Type)
		assert.Equal(t, "Query Plan\n- Output[a]\n    - TableScan[t]\n", res.Message)
		assert.Equal(t, []string{"explain select 1"}, engine.startedSQL())
		assert.Empty(t, acl.checked)
	})

	t.Run("acl disabled executes directly", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 1)))
		})
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, func(o *Options) { o.ACLEnabled = false })

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, []string{selectSQL}, engine.startedSQL())
		assert.Empty(t, acl.checked)
	})

	t.Run("plan failure is returned verbatim", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = func(context.Context, *domain.Session, string) (domain.StatementHandle, error) {
			return nil, &domain.ResultsError{Results: &domain.QueryResults{
				ID:    "q-plan",
				Error: &domain.EngineError{Message: "line 1:8: Column 'x' cannot be resolved", ErrorCode: 47},
			}}
		}
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, nil)

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindEngineQueryError, domain.KindOf(err))
		assert.Equal(t, "line 1:8: Column 'x' cannot be resolved", err.Error())
		assert.Empty(t, acl.checked)
	})

	t.Run("failed at submission", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = func(context.Context, *domain.Session, string) (domain.StatementHandle, error) {
			return newFakeHandle(&domain.QueryResults{
				ID:    "q-exec",
				Error: &domain.EngineError{Message: "Schema nope does not exist"},
			}), nil
		}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, "Schema nope does not exist", err.Error())
	})

	t.Run("terminal engine error", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			failed := snapshot("q-exec", columns("a", "b"), nil)
			failed.Error = &domain.EngineError{Message: "Query exceeded memory limit"}
			return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 1)), failed)
		})
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindEngineQueryError, domain.KindOf(err))
		assert.Equal(t, "Query exceeded memory limit", err.Error())
	})

	t.Run("advance failure unwraps envelope", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			h := newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)))
			h.advanceFn = func(context.Context, int) error {
				return errors.New("Query failed: QueryResults{id=q-exec, error=QueryError{message=Table hive.default.t does not exist, sqlState=null, errorCode=46}}")
			}
			return h
		})
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, "Table hive.default.t does not exist", err.Error())
	})

	t.Run("no columns", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-empty", nil, nil))
		})
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindNoColumns, domain.KindOf(err))
		assert.Equal(t, "Query has no columns q-empty", err.Error())
	})

	t.Run("sessions are per user", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)))
		})
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

		bob := testParagraph("bob")
		bob.Auth.User = "bob"
		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		_, err = in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		_, err = in.Interpret(context.Background(), bob, selectSQL)
		require.NoError(t, err)

		require.Len(t, engine.sessions, 3)
		assert.Same(t, engine.sessions[0], engine.sessions[1])
		assert.NotSame(t, engine.sessions[0], engine.sessions[2])
		assert.Equal(t, "presto-notebook-bob", engine.sessions[2].ClientInfo)
	})
}

func TestInterpreter_Spill(t *testing.T) {
	spillEngine := func(n int) *fakeEngine {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(
				snapshot("q-exec", columns("a", "b"), nil),
				snapshot("q-exec", columns("a", "b"), numberedRows(1, n/2)),
				snapshot("q-exec", columns("a", "b"), numberedRows(n/2+1, n)),
			)
		})
		return engine
	}
	noACL := func(o *Options) { o.ACLEnabled = false }

	t.Run("rows at the threshold stay inline", func(t *testing.T) {
		in, _ := setupInterpreter(t, spillEngine(3), &fakeACL{}, noACL)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, "%table a\tb\n1\tr1\n2\tr2\n3\tr3\n", res.Message)
		assert.Empty(t, res.SpillPath)
		assert.NoFileExists(t, filepath.Join(in.opts.ResultDir, "note1_para1"))
	})

	t.Run("rows past the threshold spill", func(t *testing.T) {
		in, _ := setupInterpreter(t, spillEngine(4), &fakeACL{}, noACL)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, "%table a\tb\n1\tr1\n2\tr2\n3\tr3\n", res.Message)
		assert.Equal(t, 4, res.Rows)

		path := filepath.Join(in.opts.ResultDir, "note1_para1")
		assert.Equal(t, path, res.SpillPath)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		want := "\xEF\xBB\xBF" + `"a","b"` + "\n" + `"1","r1"` + "\n" + `"2","r2"` + "\n" + `"3","r3"` + "\n" + `"4","r4"` + "\n"
		assert.Equal(t, want, string(data))
	})

	t.Run("rerun removes previous file", func(t *testing.T) {
		engine := spillEngine(4)
		in, _ := setupInterpreter(t, engine, &fakeACL{}, noACL)
		path := filepath.Join(in.opts.ResultDir, "note1_para1")

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		require.FileExists(t, path)

		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 2)))
		})
		_, err = in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.NoFileExists(t, path)
	})

	t.Run("rerun keeps only the latest spill", func(t *testing.T) {
		engine := spillEngine(4)
		in, _ := setupInterpreter(t, engine, &fakeACL{}, noACL)
		path := filepath.Join(in.opts.ResultDir, "note1_para1")

		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		require.FileExists(t, path)

		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(11, 15)))
		})
		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		require.Equal(t, path, res.SpillPath)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		want := "\xEF\xBB\xBF" + `"a","b"` + "\n"
		for i := 11; i <= 15; i++ {
			want += fmt.Sprintf(`"%d","r%d"`, i, i) + "\n"
		}
		assert.Equal(t, want, string(data))
	})

	t.Run("denied rerun removes previous file", func(t *testing.T) {
		engine := spillEngine(4)
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, nil)
		path := filepath.Join(in.opts.ResultDir, "note1_para1")

		engine.startFn = scripted(
			func() *fakeHandle { return planHandle("t") },
			func() *fakeHandle {
				return newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 4)))
			},
		)
		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		require.FileExists(t, path)

		acl.checkFn = func(string, string, string) (domain.ACLResult, string, error) {
			return domain.ACLDeny, "no grant on t", nil
		}
		_, err = in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		assert.Equal(t, domain.KindAccessDenied, domain.KindOf(err))
		assert.NoFileExists(t, path)
	})

	t.Run("spill rows are capped", func(t *testing.T) {
		in, _ := setupInterpreter(t, spillEngine(10), &fakeACL{}, func(o *Options) {
			o.ACLEnabled = false
			o.MaxSpillRows = 5
		})

		res, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.NoError(t, err)
		assert.True(t, res.Truncated)
		data, err := os.ReadFile(res.SpillPath)
		require.NoError(t, err)
		// header + 3 re-encoded rows + 5 spilled rows
		assert.Equal(t, 9, len(splitTrimTrailing(string(data), "\n")))
	})

	t.Run("non-select output is truncated", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(nil, func() *fakeHandle {
			return newFakeHandle(snapshot("q-exec", columns("Table"), [][]interface{}{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}}))
		})
		in, _ := setupInterpreter(t, engine, &fakeACL{}, noACL)

		res, err := in.Interpret(context.Background(), testParagraph("alice"), "show tables")
		require.NoError(t, err)
		assert.Equal(t, "%table Table\na\nb\nc\n", res.Message)
		assert.True(t, res.Truncated)
		assert.Empty(t, res.SpillPath)
	})
}

func TestInterpreter_ACL(t *testing.T) {
	newEngine := func() *fakeEngine {
		engine := &fakeEngine{}
		engine.startFn = scripted(
			func() *fakeHandle { return planHandle("hive:default:t") },
			func() *fakeHandle { return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1))) },
		)
		return engine
	}

	t.Run("partition requirement short-circuits", func(t *testing.T) {
		engine := newEngine()
		acl := &fakeACL{checkFn: func(_, _, principal string) (domain.ACLResult, string, error) {
			switch principal {
			case "p1":
				return domain.ACLDeny, "no grant on t", nil
			case "p2":
				return domain.ACLRequiresPartitionColumn, "t requires dt in where clause", nil
			default:
				return domain.ACLAllow, "", nil
			}
		}}
		in, _ := setupInterpreter(t, engine, acl, nil)

		_, err := in.Interpret(context.Background(), testParagraph("p1", "p2", "p3"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindAccessDenied, domain.KindOf(err))
		assert.Equal(t, "[p1,p2,p3]t requires dt in where clause", err.Error())
		assert.Equal(t, []string{"p1", "p2"}, acl.checked)
		assert.Equal(t, []string{"explain " + selectSQL}, engine.startedSQL())
	})

	t.Run("first allow wins", func(t *testing.T) {
		engine := newEngine()
		acl := &fakeACL{checkFn: func(_, _, principal string) (domain.ACLResult, string, error) {
			if principal == "p2" {
				return domain.ACLAllow, "", nil
			}
			return domain.ACLDeny, "denied", nil
		}}
		in, _ := setupInterpreter(t, engine, acl, nil)

		_, err := in.Interpret(context.Background(), testParagraph("p1", "p2", "p3"), selectSQL)
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2"}, acl.checked)
	})

	t.Run("evaluator failure denies", func(t *testing.T) {
		acl := &fakeACL{checkFn: func(string, string, string) (domain.ACLResult, string, error) {
			return domain.ACLDeny, "", errors.New("policy store offline")
		}}
		in, _ := setupInterpreter(t, newEngine(), acl, nil)

		_, err := in.Interpret(context.Background(), testParagraph("p1"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindAccessDenied, domain.KindOf(err))
		assert.Equal(t, "Error while checking authority: policy store offline", err.Error())
	})

	t.Run("reload", func(t *testing.T) {
		engine := &fakeEngine{}
		acl := &fakeACL{}
		in, runs := setupInterpreter(t, engine, acl, nil)

		res, err := in.Interpret(context.Background(), testParagraph("p1"), "reload")
		require.NoError(t, err)
		assert.Equal(t, domain.ResultTypeText, res.Type)

		acl.reloadErr = errors.New("bad yaml")
		_, err = in.Interpret(context.Background(), testParagraph("p1"), "reload")
		require.Error(t, err)
		assert.Equal(t, domain.KindACLReloadFailed, domain.KindOf(err))
		assert.Equal(t, "Error while reload config: bad yaml", err.Error())

		assert.Equal(t, 2, acl.reloads)
		assert.Empty(t, engine.startedSQL())
		assert.Empty(t, runs.all())
	})
}

func TestInterpreter_Cancel(t *testing.T) {
	t.Run("between plan and execute", func(t *testing.T) {
		engine := &fakeEngine{}
		engine.startFn = scripted(
			func() *fakeHandle { return planHandle("t") },
			func() *fakeHandle { return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1))) },
		)
		acl := &fakeACL{}
		in, _ := setupInterpreter(t, engine, acl, nil)
		pctx := testParagraph("alice")
		acl.checkFn = func(string, string, string) (domain.ACLResult, string, error) {
			in.Cancel(pctx)
			return domain.ACLAllow, "", nil
		}

		_, err := in.Interpret(context.Background(), pctx, selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
		assert.Equal(t, "Query canceled.", err.Error())
		assert.Equal(t, []string{"explain " + selectSQL}, engine.startedSQL())
		assert.Equal(t, []string{"q-plan"}, engine.killedIDs())
	})

	t.Run("during execute with progress", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })
		pctx := testParagraph("alice")

		var observed int
		var handle *fakeHandle
		engine.startFn = scripted(nil, func() *fakeHandle {
			first := snapshot("q-exec", columns("a", "b"), numberedRows(1, 1))
			first.Stats = domain.StatementStats{State: "RUNNING", TotalSplits: 10, CompletedSplits: 4}
			handle = newFakeHandle(first, snapshot("q-exec", columns("a", "b"), numberedRows(2, 2)))
			handle.advanceFn = func(_ context.Context, idx int) error {
				if idx == 0 {
					observed = in.Progress(pctx.ParagraphID)
					in.Cancel(pctx)
				}
				return nil
			}
			return handle
		})

		_, err := in.Interpret(context.Background(), pctx, selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
		assert.Equal(t, 40, observed)
		assert.Equal(t, []string{"q-exec"}, engine.killedIDs())
		assert.GreaterOrEqual(t, handle.closeCount(), 1)
		assert.Equal(t, 0, in.Progress(pctx.ParagraphID))
	})

	t.Run("kill failure is not propagated", func(t *testing.T) {
		engine := &fakeEngine{killErr: errors.New("connection reset")}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })
		pctx := testParagraph("alice")

		engine.startFn = scripted(nil, func() *fakeHandle {
			h := newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)), snapshot("q-exec", columns("a"), nil))
			h.advanceFn = func(_ context.Context, idx int) error {
				if idx == 0 {
					in.Cancel(pctx)
				}
				return nil
			}
			return h
		})

		_, err := in.Interpret(context.Background(), pctx, selectSQL)
		assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
		assert.Equal(t, []string{"q-exec"}, engine.killedIDs())
	})

	t.Run("twice while running", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })
		pctx := testParagraph("alice")

		var handle *fakeHandle
		engine.startFn = scripted(nil, func() *fakeHandle {
			handle = newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)), snapshot("q-exec", columns("a"), numberedRows(2, 2)))
			handle.advanceFn = func(_ context.Context, idx int) error {
				if idx == 0 {
					in.Cancel(pctx)
					in.Cancel(pctx)
				}
				return nil
			}
			return handle
		})

		_, err := in.Interpret(context.Background(), pctx, selectSQL)
		assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
		assert.Equal(t, []string{"q-exec"}, engine.killedIDs())
		assert.GreaterOrEqual(t, handle.closeCount(), 1)
		assert.Equal(t, 0, in.tasks.Len())
	})

	t.Run("no-op without a task", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

		in.Cancel(testParagraph("alice"))
		assert.Empty(t, engine.killedIDs())
		assert.Equal(t, 0, in.tasks.Len())
	})

	t.Run("caller context canceled", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })
		ctx, cancel := context.WithCancel(context.Background())

		engine.startFn = scripted(nil, func() *fakeHandle {
			h := newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)), snapshot("q-exec", columns("a"), numberedRows(2, 2)))
			h.advanceFn = func(context.Context, int) error {
				cancel()
				return nil
			}
			return h
		})

		_, err := in.Interpret(ctx, testParagraph("alice"), selectSQL)
		assert.Equal(t, domain.KindCanceled, domain.KindOf(err))
	})
}

func TestInterpreter_OverlappingRuns(t *testing.T) {
	engine := &fakeEngine{}
	in, _ := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })
	pctx := testParagraph("alice")

	inFirst := make(chan struct{})
	releaseFirst := make(chan struct{})
	var (
		mu      sync.Mutex
		handles []*fakeHandle
	)
	engine.startFn = scripted(nil, func() *fakeHandle {
		mu.Lock()
		defer mu.Unlock()
		h := newFakeHandle(snapshot("q-exec", columns("a", "b"), numberedRows(1, 1)), snapshot("q-exec", columns("a", "b"), numberedRows(2, 2)))
		if len(handles) == 0 {
			h.advanceFn = func(_ context.Context, idx int) error {
				if idx == 0 {
					close(inFirst)
					<-releaseFirst
				}
				return nil
			}
		}
		handles = append(handles, h)
		return h
	})

	type runOutcome struct {
		res *domain.Result
		err error
	}
	first := make(chan runOutcome, 1)
	go func() {
		res, err := in.Interpret(context.Background(), pctx, selectSQL)
		first <- runOutcome{res, err}
	}()
	<-inFirst

	second := make(chan runOutcome, 1)
	go func() {
		res, err := in.Interpret(context.Background(), pctx, selectSQL)
		second <- runOutcome{res, err}
	}()

	assert.Never(t, func() bool { return len(engine.startedSQL()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	close(releaseFirst)

	a := <-first
	require.NoError(t, a.err)
	assert.Equal(t, 2, a.res.Rows)
	b := <-second
	require.NoError(t, b.err)
	assert.Equal(t, 2, b.res.Rows)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handles, 2)
	assert.GreaterOrEqual(t, handles[0].closeCount(), 1)
	assert.GreaterOrEqual(t, handles[1].closeCount(), 1)
}

func TestInterpreter_Progress(t *testing.T) {
	t.Run("unknown paragraph", func(t *testing.T) {
		in, _ := setupInterpreter(t, &fakeEngine{}, &fakeACL{}, nil)
		assert.Equal(t, 0, in.Progress("missing"))
		assert.Equal(t, 0, in.tasks.Len())
	})

	t.Run("not reported during plan phase", func(t *testing.T) {
		engine := &fakeEngine{}
		in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)
		pctx := testParagraph("alice")

		observed := -1
		engine.startFn = scripted(
			func() *fakeHandle {
				s := snapshot("q-plan", columns("Query Plan"), [][]interface{}{{"TableScan[t]"}})
				s.Stats = domain.StatementStats{TotalSplits: 2, CompletedSplits: 1}
				h := newFakeHandle(s)
				h.advanceFn = func(context.Context, int) error {
					observed = in.Progress(pctx.ParagraphID)
					return nil
				}
				return h
			},
			func() *fakeHandle { return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1))) },
		)

		_, err := in.Interpret(context.Background(), pctx, selectSQL)
		require.NoError(t, err)
		assert.Equal(t, 0, observed)
	})
}

func TestInterpreter_ConnectionFailure(t *testing.T) {
	in := New(Options{ResultDir: t.TempDir(), ACLEnabled: true}, func() (domain.QueryEngine, error) {
		return nil, errors.New("dial tcp 127.0.0.1:9090: connection refused")
	}, &fakeACL{}, nil, nil)
	require.NoError(t, in.Open())
	t.Cleanup(func() { _ = in.Close() })

	for i := 0; i < 2; i++ {
		_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
		require.Error(t, err)
		assert.Equal(t, domain.KindEngineConnectionUnavailable, domain.KindOf(err))
		assert.Equal(t, "dial tcp 127.0.0.1:9090: connection refused", err.Error())
	}
}

func TestInterpreter_RunHistory(t *testing.T) {
	engine := &fakeEngine{}
	engine.startFn = scripted(nil, func() *fakeHandle {
		return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 2)))
	})
	in, runs := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

	_, err := in.Interpret(context.Background(), testParagraph("alice"), selectSQL)
	require.NoError(t, err)
	_, err = in.Interpret(context.Background(), testParagraph("alice"), "select 1")
	require.Error(t, err)

	all := runs.all()
	require.Len(t, all, 2)
	assert.Equal(t, domain.RunStatusSucceeded, all[0].Status)
	assert.Equal(t, 2, all[0].RowsReturned)
	assert.Equal(t, "alice", all[0].UserName)
	assert.Equal(t, domain.RunStatusFailed, all[1].Status)
	assert.Equal(t, string(domain.KindMissingOrExcessiveLimit), all[1].ErrorKind)
	assert.Equal(t, "No limit clause.", all[1].ErrorMessage)
}

func TestInterpreter_Submit(t *testing.T) {
	engine := &fakeEngine{}
	engine.startFn = scripted(nil, func() *fakeHandle {
		return newFakeHandle(snapshot("q-exec", columns("a"), numberedRows(1, 1)))
	})
	in, runs := setupInterpreter(t, engine, &fakeACL{}, func(o *Options) { o.ACLEnabled = false })

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pctx := testParagraph("alice")
			pctx.ParagraphID = fmt.Sprintf("para-%d", i)
			_, errs[i] = in.Submit(context.Background(), pctx, selectSQL)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, runs.all(), 6)
}

func TestInterpreter_Close(t *testing.T) {
	engine := &fakeEngine{}
	in, _ := setupInterpreter(t, engine, &fakeACL{}, nil)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close())
	assert.Equal(t, 1, engine.closeCalls)

	_, err := in.Submit(context.Background(), testParagraph("alice"), selectSQL)
	assert.Equal(t, domain.KindEngineConnectionUnavailable, domain.KindOf(err))
}
