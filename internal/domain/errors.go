// Package domain defines core types, interfaces, and errors for the notebook query interpreter.
package domain

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input at the API boundary.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrorKind classifies a failed paragraph execution.
type ErrorKind string

// Paragraph execution error kinds.
const (
	KindEmptyQuery                  ErrorKind = "EMPTY_QUERY"
	KindMissingOrExcessiveLimit     ErrorKind = "MISSING_OR_EXCESSIVE_LIMIT"
	KindUnauthenticated             ErrorKind = "UNAUTHENTICATED"
	KindAccessDenied                ErrorKind = "ACCESS_DENIED"
	KindCanceled                    ErrorKind = "CANCELED"
	KindEngineConnectionUnavailable ErrorKind = "ENGINE_CONNECTION_UNAVAILABLE"
	KindEngineQueryError            ErrorKind = "ENGINE_QUERY_ERROR"
	KindNoColumns                   ErrorKind = "NO_COLUMNS"
	KindACLReloadFailed             ErrorKind = "ACL_RELOAD_FAILED"
)

// QueryError is returned by every interpreter operation that fails.
// Message is what the notebook shows to the user.
type QueryError struct {
	Kind    ErrorKind
	Message string
}

func (e *QueryError) Error() string { return e.Message }

// KindOf returns the ErrorKind carried by err, or "" if err is not a QueryError.
func KindOf(err error) ErrorKind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return ""
}

func newQueryError(kind ErrorKind, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrEmptyQuery reports a blank statement.
func ErrEmptyQuery() *QueryError {
	return newQueryError(KindEmptyQuery, "No query")
}

// ErrMissingLimit reports a select without a trailing limit clause.
func ErrMissingLimit() *QueryError {
	return newQueryError(KindMissingOrExcessiveLimit, "No limit clause.")
}

// ErrExcessiveLimit reports a limit clause larger than max.
func ErrExcessiveLimit(max int) *QueryError {
	return newQueryError(KindMissingOrExcessiveLimit, "Limit clause exceeds %d", max)
}

// ErrUnauthenticated reports a caller without principals.
func ErrUnauthenticated() *QueryError {
	return newQueryError(KindUnauthenticated, "Not login user.")
}

// ErrAccessDenied creates an access denial with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *QueryError {
	return newQueryError(KindAccessDenied, format, args...)
}

// ErrCanceled reports a query stopped by an explicit cancel.
func ErrCanceled() *QueryError {
	return newQueryError(KindCanceled, "Query canceled.")
}

// ErrConnectionUnavailable reports that the engine could not be reached at open time.
func ErrConnectionUnavailable(cause error) *QueryError {
	return newQueryError(KindEngineConnectionUnavailable, "%s", cause.Error())
}

// ErrEngineQuery wraps a failure reported by the engine.
func ErrEngineQuery(message string) *QueryError {
	return &QueryError{Kind: KindEngineQueryError, Message: message}
}

// ErrNoColumns reports a terminal result that never carried column metadata.
func ErrNoColumns(queryID string) *QueryError {
	return newQueryError(KindNoColumns, "Query has no columns %s", queryID)
}

// ErrACLReload reports a failed policy reload.
func ErrACLReload(cause error) *QueryError {
	return newQueryError(KindACLReloadFailed, "Error while reload config: %s", cause.Error())
}
