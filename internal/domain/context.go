package domain

import "context"

type authKey struct{}

// AuthInfo is the authenticated caller: the user name and every principal
// (user plus roles/groups) the caller may act as.
type AuthInfo struct {
	User       string
	Principals []string
}

// WithAuthInfo stores an AuthInfo in the context.
func WithAuthInfo(ctx context.Context, a AuthInfo) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// AuthInfoFromContext extracts the AuthInfo from the context.
func AuthInfoFromContext(ctx context.Context) (AuthInfo, bool) {
	a, ok := ctx.Value(authKey{}).(AuthInfo)
	return a, ok
}

// ParagraphContext identifies the cell being executed and its caller.
type ParagraphContext struct {
	NoteID      string
	ParagraphID string
	Auth        AuthInfo
}

// ResultType tells the notebook how to render a result message.
type ResultType string

// Result types.
const (
	ResultTypeTable ResultType = "TABLE"
	ResultTypeText  ResultType = "TEXT"
)

// TableDirective prefixes messages the notebook should render as a table.
const TableDirective = "%table "

// Result is a successful paragraph execution.
type Result struct {
	Type      ResultType `json:"type"`
	Message   string     `json:"message"`
	Rows      int        `json:"rows"`
	SpillPath string     `json:"spill_path,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}
