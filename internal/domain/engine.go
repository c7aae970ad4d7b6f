package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session is the per-user engine context. It is immutable once created.
type Session struct {
	Server         string
	User           string
	Source         string
	ClientInfo     string
	ClientTag      string
	Catalog        string
	Schema         string
	TimeZone       string
	Locale         string
	Properties     map[string]string
	RequestTimeout time.Duration
}

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// StatementStats is the progress snapshot reported by the engine.
type StatementStats struct {
	State           string `json:"state"`
	Scheduled       bool   `json:"scheduled"`
	Nodes           int    `json:"nodes"`
	TotalSplits     int    `json:"totalSplits"`
	QueuedSplits    int    `json:"queuedSplits"`
	RunningSplits   int    `json:"runningSplits"`
	CompletedSplits int    `json:"completedSplits"`
	ProcessedRows   int64  `json:"processedRows"`
	ProcessedBytes  int64  `json:"processedBytes"`
}

// EngineError is the engine's structured failure.
type EngineError struct {
	Message   string `json:"message"`
	SQLState  string `json:"sqlState"`
	ErrorCode int    `json:"errorCode"`
	ErrorName string `json:"errorName"`
	ErrorType string `json:"errorType"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("QueryError{message=%s, sqlState=%s, errorCode=%d, errorName=%s, errorType=%s}",
		e.Message, e.SQLState, e.ErrorCode, e.ErrorName, e.ErrorType)
}

// QueryResults is one snapshot of a remote query: the batch of rows received
// with it, the latest stats, and the terminal error if any.
type QueryResults struct {
	ID      string          `json:"id"`
	InfoURI string          `json:"infoUri,omitempty"`
	NextURI string          `json:"nextUri,omitempty"`
	Columns []Column        `json:"columns,omitempty"`
	Data    [][]interface{} `json:"data,omitempty"`
	Stats   StatementStats  `json:"stats"`
	Error   *EngineError    `json:"error,omitempty"`
}

// String renders the snapshot in the engine client's native envelope format.
func (r *QueryResults) String() string {
	var b strings.Builder
	b.WriteString("QueryResults{id=")
	b.WriteString(r.ID)
	b.WriteString(", infoUri=")
	b.WriteString(r.InfoURI)
	b.WriteString(", nextUri=")
	b.WriteString(r.NextURI)
	fmt.Fprintf(&b, ", columns=%d, hasData=%t", len(r.Columns), r.Data != nil)
	b.WriteString(", stats=")
	b.WriteString(r.Stats.State)
	if r.Error != nil {
		b.WriteString(", error=")
		b.WriteString(r.Error.Error())
	}
	b.WriteString("}")
	return b.String()
}

// ResultsError is raised when a query failed at submission. It keeps the
// final snapshot so callers can read the structured EngineError.
type ResultsError struct {
	Results *QueryResults
}

func (e *ResultsError) Error() string { return e.Results.String() }

// Unwrap exposes the structured engine error, if any.
func (e *ResultsError) Unwrap() error {
	if e.Results == nil || e.Results.Error == nil {
		return nil
	}
	return e.Results.Error
}

// StatementHandle owns one in-flight remote query.
type StatementHandle interface {
	// IsValid reports whether the query is still producing snapshots.
	IsValid() bool
	// Current returns the latest snapshot.
	Current() *QueryResults
	// Advance requests the next batch; once no further batch exists the handle becomes invalid.
	Advance(ctx context.Context) error
	// IsFailed reports whether the latest snapshot carries an error.
	IsFailed() bool
	// FinalResults returns the terminal snapshot.
	FinalResults() *QueryResults
	// Close releases the query. Safe to call more than once.
	Close() error
}

// QueryEngine is the connection capability the interpreter consumes.
type QueryEngine interface {
	Start(ctx context.Context, session *Session, sql string) (StatementHandle, error)
	Kill(ctx context.Context, queryID string) error
	Close() error
}
