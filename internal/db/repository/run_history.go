package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"presto-notebook/internal/domain"
)

// RunRepo stores paragraph runs in SQLite. Inserts go through the
// single-connection write pool; lookups use the read pool.
type RunRepo struct {
	write *sql.DB
	read  *sql.DB
}

var _ domain.RunRepository = (*RunRepo)(nil)

// NewRunRepo creates a RunRepo over a migrated database. read may be nil,
// in which case write serves both.
func NewRunRepo(write, read *sql.DB) *RunRepo {
	if read == nil {
		read = write
	}
	return &RunRepo{write: write, read: read}
}

// Insert records run and sets its ID.
func (r *RunRepo) Insert(ctx context.Context, run *domain.ParagraphRun) error {
	res, err := r.write.ExecContext(ctx, `
		INSERT INTO paragraph_runs (
			note_id, paragraph_id, user_name, statement, status,
			error_kind, error_message, rows_returned, spill_path, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.NoteID, run.ParagraphID, run.UserName, run.Statement, run.Status,
		run.ErrorKind, run.ErrorMessage, run.RowsReturned, run.SpillPath,
		run.StartedAt.UTC().Format(timeLayout), run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert paragraph run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert paragraph run: %w", err)
	}
	run.ID = id
	return nil
}

// ListByParagraph returns the most recent runs of a paragraph, newest first.
func (r *RunRepo) ListByParagraph(ctx context.Context, noteID, paragraphID string, limit int) ([]domain.ParagraphRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.read.QueryContext(ctx, `
		SELECT id, note_id, paragraph_id, user_name, statement, status,
		       error_kind, error_message, rows_returned, spill_path, started_at, duration_ms
		FROM paragraph_runs
		WHERE note_id = ? AND paragraph_id = ?
		ORDER BY id DESC
		LIMIT ?`, noteID, paragraphID, limit)
	if err != nil {
		return nil, fmt.Errorf("list paragraph runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.ParagraphRun{}
	for rows.Next() {
		var (
			run     domain.ParagraphRun
			started string
		)
		if err := rows.Scan(&run.ID, &run.NoteID, &run.ParagraphID, &run.UserName, &run.Statement, &run.Status,
			&run.ErrorKind, &run.ErrorMessage, &run.RowsReturned, &run.SpillPath, &started, &run.DurationMs); err != nil {
			return nil, mapDBError(err)
		}
		if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Get returns one run by id.
func (r *RunRepo) Get(ctx context.Context, id int64) (*domain.ParagraphRun, error) {
	var (
		run     domain.ParagraphRun
		started string
	)
	err := r.read.QueryRowContext(ctx, `
		SELECT id, note_id, paragraph_id, user_name, statement, status,
		       error_kind, error_message, rows_returned, spill_path, started_at, duration_ms
		FROM paragraph_runs WHERE id = ?`, id).Scan(
		&run.ID, &run.NoteID, &run.ParagraphID, &run.UserName, &run.Statement, &run.Status,
		&run.ErrorKind, &run.ErrorMessage, &run.RowsReturned, &run.SpillPath, &started, &run.DurationMs)
	if err != nil {
		return nil, mapDBError(err)
	}
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", started, err)
	}
	return &run, nil
}
