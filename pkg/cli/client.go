package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the interpreter host.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.HTTPStatus, e.Kind)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.HTTPStatus)
}

// Result is a paragraph result as returned by the host.
type Result struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Rows      int    `json:"rows"`
	SpillPath string `json:"spill_path,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Run is one recorded paragraph run.
type Run struct {
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

// Client calls the interpreter host API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a Client. Paragraph runs block until the query finishes,
// so the HTTP client has no overall timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{BaseURL: baseURL, Token: token, HTTP: &http.Client{}}
}

// RunParagraph executes sql in the paragraph and waits for its result.
func (c *Client) RunParagraph(ctx context.Context, noteID, paragraphID, sql string) (*Result, error) {
	var res Result
	err := c.do(ctx, http.MethodPost, paragraphPath(noteID, paragraphID, "run"), map[string]string{"sql": sql}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelParagraph stops the paragraph's running query.
func (c *Client) CancelParagraph(ctx context.Context, noteID, paragraphID string) error {
	return c.do(ctx, http.MethodPost, paragraphPath(noteID, paragraphID, "cancel"), nil, nil)
}

// Progress returns the paragraph's completion percentage.
func (c *Client) Progress(ctx context.Context, paragraphID string) (int, error) {
	var out struct {
		Progress int `json:"progress"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/paragraphs/"+url.PathEscape(paragraphID)+"/progress", nil, &out); err != nil {
		return 0, err
	}
	return out.Progress, nil
}

// ListRuns returns the paragraph's most recent runs.
func (c *Client) ListRuns(ctx context.Context, noteID, paragraphID string, limit int) ([]Run, error) {
	path := paragraphPath(noteID, paragraphID, "runs")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Data []Run `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func paragraphPath(noteID, paragraphID, action string) string {
	return "/v1/notes/" + url.PathEscape(noteID) + "/paragraphs/" + url.PathEscape(paragraphID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
