package interpreter

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"presto-notebook/internal/domain"
)

// streamer drives one query from submission to its terminal snapshot and
// materializes the rows inline or in a spill file.
type streamer struct {
	engine   domain.QueryEngine
	connErr  error
	sessions *SessionRegistry
	opts     Options
	logger   *slog.Logger
}

// streamOutput is the materialized result of one streamed query.
type streamOutput struct {
	message   string
	plan      string
	rows      int
	spillPath string
	truncated bool
	explain   bool
}

func (o *streamOutput) result() *domain.Result {
	r := &domain.Result{
		Rows:      o.rows,
		SpillPath: o.spillPath,
		Truncated: o.truncated,
	}
	if o.explain {
		r.Type = domain.ResultTypeText
		r.Message = o.message
	} else {
		r.Type = domain.ResultTypeTable
		r.Message = domain.TableDirective + o.message
	}
	return r
}

func (s *streamer) stream(ctx context.Context, task *Task, pctx domain.ParagraphContext, sql string, ph phase) (*streamOutput, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrEmptyQuery()
	}
	if err := checkLimitClause(sql, s.opts.MaxLimit); err != nil {
		return nil, err
	}
	if s.connErr != nil {
		return nil, domain.ErrConnectionUnavailable(s.connErr)
	}

	stmt := classify(sql)
	b := &resultBuilder{
		maxInline: s.opts.MaxInlineRows,
		maxSpill:  s.opts.MaxSpillRows,
		isSelect:  stmt.isSelect(),
		isExplain: stmt.isExplain(),
		spillPath: spillPath(s.opts.ResultDir, pctx.NoteID, pctx.ParagraphID),
		logger:    s.logger.With("paragraph_id", pctx.ParagraphID),
	}
	defer b.closeSpill()

	if err := os.Remove(b.spillPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Error("remove previous result file", "path", b.spillPath, "error", err)
	}

	// In-flight engine calls are not aborted by cancellation; the loop
	// checks ctx between batches instead.
	ioCtx := context.WithoutCancel(ctx)

	handle, err := s.engine.Start(ioCtx, s.sessions.Get(pctx.Auth.User), sql)
	if err != nil {
		return nil, s.engineFailure(sql, err)
	}
	if handle.IsFailed() {
		final := handle.FinalResults()
		_ = handle.Close()
		return nil, s.engineFailure(sql, &domain.ResultsError{Results: final})
	}
	task.setHandle(ph, handle)

	for handle.IsValid() {
		if ctx.Err() != nil {
			_ = handle.Close()
			return nil, domain.ErrCanceled()
		}
		results := handle.Current()
		task.setResult(ph, results)
		if ph == phaseExecute {
			task.enableReporting()
		}
		b.observeColumns(results.Columns)

		data := results.Data
		if err := handle.Advance(ioCtx); err != nil {
			if ctx.Err() != nil || task.cancelRequested() {
				return nil, domain.ErrCanceled()
			}
			return nil, s.engineFailure(sql, err)
		}
		if data == nil {
			continue
		}
		b.appendBatch(results.Columns, data)
	}

	if ctx.Err() != nil || task.cancelRequested() {
		return nil, domain.ErrCanceled()
	}

	final := handle.FinalResults()
	if final.Error != nil {
		return nil, domain.ErrEngineQuery(final.Error.Message)
	}
	b.observeColumns(final.Columns)
	if !b.hasColumns() && stmt.producesRows() {
		return nil, domain.ErrNoColumns(final.ID)
	}
	task.setResult(ph, final)

	b.finishHeader()
	if err := b.closeSpill(); err != nil {
		s.logger.Error("close result file", "path", b.spillPath, "error", err)
	}
	return b.output(), nil
}

func (s *streamer) engineFailure(sql string, err error) error {
	s.logger.Error("can not run statement", "sql", sql, "error", err)
	return domain.ErrEngineQuery(engineMessage(err))
}

// resultBuilder accumulates rows in the tab-separated buffer until the inline
// threshold, then continues the same result in a spill file.
type resultBuilder struct {
	maxInline int
	maxSpill  int
	isSelect  bool
	isExplain bool
	spillPath string
	logger    *slog.Logger

	msg           strings.Builder
	columns       []domain.Column
	headerWritten bool
	received      int
	plan          string
	planSet       bool
	spill         *spillFile
	spillUsed     bool
	spillFailed   bool
	truncated     bool
}

func (b *resultBuilder) observeColumns(cols []domain.Column) {
	if b.columns == nil && cols != nil {
		b.columns = cols
	}
}

func (b *resultBuilder) hasColumns() bool { return b.columns != nil }

func (b *resultBuilder) writeHeader(cols []domain.Column) {
	for i, c := range cols {
		if i > 0 {
			b.msg.WriteByte('\t')
		}
		b.msg.WriteString(c.Name)
	}
	b.msg.WriteByte('\n')
	b.headerWritten = true
}

// finishHeader emits the header for results that had columns but no rows.
func (b *resultBuilder) finishHeader() {
	if !b.headerWritten && len(b.columns) > 0 {
		b.writeHeader(b.columns)
	}
}

func (b *resultBuilder) appendBatch(cols []domain.Column, data [][]interface{}) {
	if !b.headerWritten {
		if cols == nil {
			cols = b.columns
		}
		b.writeHeader(cols)
	}
	for _, row := range data {
		b.received++
		if !b.planSet {
			b.plan = joinRaw(row)
			b.planSet = true
		}
		if b.received > b.maxInline {
			b.spillRow(row)
			continue
		}
		for i, v := range row {
			if i > 0 {
				b.msg.WriteByte('\t')
			}
			if b.isExplain {
				b.msg.WriteString(rawString(v))
			} else {
				b.msg.WriteString(cellString(v))
			}
		}
		b.msg.WriteByte('\n')
	}
}

func (b *resultBuilder) spillRow(row []interface{}) {
	if !b.isSelect {
		b.truncate("statement output exceeds the notebook row limit")
		return
	}
	if b.spillFailed {
		return
	}
	if b.spill == nil {
		sp, err := openSpill(b.spillPath, b.msg.String())
		if err != nil {
			b.logger.Error("open result file", "path", b.spillPath, "error", err)
			b.spillFailed = true
			b.truncated = true
			return
		}
		b.spill = sp
		b.spillUsed = true
	}
	if b.spill.rows >= b.maxSpill {
		b.truncate("result exceeds the result file row limit")
		return
	}

	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = cellString(v)
	}
	if err := b.spill.writeRow(cells); err != nil {
		b.logger.Error("write result file", "path", b.spillPath, "error", err)
		b.spillFailed = true
		b.truncated = true
		_ = b.closeSpill()
	}
}

func (b *resultBuilder) truncate(reason string) {
	if !b.truncated {
		b.logger.Warn("dropping rows", "reason", reason, "received", b.received)
	}
	b.truncated = true
}

func (b *resultBuilder) closeSpill() error {
	if b.spill == nil {
		return nil
	}
	err := b.spill.Close()
	b.spill = nil
	return err
}

func (b *resultBuilder) output() *streamOutput {
	out := &streamOutput{
		message:   b.msg.String(),
		plan:      b.plan,
		rows:      b.received,
		truncated: b.truncated,
		explain:   b.isExplain,
	}
	if b.spillUsed && !b.spillFailed {
		out.spillPath = b.spillPath
	}
	return out
}

func joinRaw(row []interface{}) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = rawString(v)
	}
	return strings.Join(parts, "\t")
}
