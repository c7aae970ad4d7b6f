package domain

import (
	"context"
	"time"
)

// Paragraph run statuses.
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// ParagraphRun is one recorded interpret call.
type ParagraphRun struct {
	ID           int64     `json:"id"`
	NoteID       string    `json:"note_id"`
	ParagraphID  string    `json:"paragraph_id"`
	UserName     string    `json:"user_name"`
	Statement    string    `json:"statement"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RowsReturned int       `json:"rows_returned"`
	SpillPath    string    `json:"spill_path,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// RunRepository persists paragraph run history.
type RunRepository interface {
	Insert(ctx context.Context, run *ParagraphRun) error
	ListByParagraph(ctx context.Context, noteID, paragraphID string, limit int) ([]ParagraphRun, error)
}
