// Package presto is a minimal client for the Presto statement protocol:
// POST /v1/statement, follow nextUri until the query drains, DELETE to cancel.
package presto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"presto-notebook/internal/domain"
)

const (
	headerPrefix = "X-Presto-"

	headerUser       = headerPrefix + "User"
	headerSource     = headerPrefix + "Source"
	headerCatalog    = headerPrefix + "Catalog"
	headerSchema     = headerPrefix + "Schema"
	headerTimeZone   = headerPrefix + "Time-Zone"
	headerLanguage   = headerPrefix + "Language"
	headerClientInfo = headerPrefix + "Client-Info"
	headerClientTags = headerPrefix + "Client-Tags"
	headerSession    = headerPrefix + "Session"

	defaultDialTimeout = 10 * time.Second
	maxRetryDelay      = 15 * time.Second
	maxErrorBody       = 8 * 1024
)

// HTTPError is a non-retryable, non-200 response from the coordinator.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("presto: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Config configures a Client.
type Config struct {
	URL         string
	Password    string
	DialTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Client talks to one Presto coordinator. It is safe for concurrent use and
// implements domain.QueryEngine.
type Client struct {
	baseURL   string
	password  string
	http      *http.Client
	logger    *slog.Logger
	closeOnce sync.Once
}

var _ domain.QueryEngine = (*Client)(nil)

// New validates cfg and creates a Client. It does not contact the server.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("presto: parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("presto: unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("presto: url has no host")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		dial := cfg.DialTimeout
		if dial <= 0 {
			dial = defaultDialTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: dial, KeepAlive: 30 * time.Second}).DialContext
		hc = &http.Client{Transport: transport}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(u.String(), "/"),
		password: cfg.Password,
		http:     hc,
		logger:   logger,
	}, nil
}

// Ping checks that the coordinator answers GET /v1/info.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/info", nil)
	if err != nil {
		return fmt.Errorf("presto: %w", err)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Start submits sql under session and returns a handle positioned on the
// first snapshot.
func (c *Client) Start(ctx context.Context, session *domain.Session, sql string) (domain.StatementHandle, error) {
	req, err := c.newRequest(ctx, session, http.MethodPost, c.baseURL+"/v1/statement", strings.NewReader(sql))
	if err != nil {
		return nil, err
	}
	first, err := c.fetch(ctx, session, req)
	if err != nil {
		return nil, err
	}
	return &Statement{client: c, session: session, current: first, valid: true}, nil
}

// Kill cancels a running query by id.
func (c *Client) Kill(ctx context.Context, queryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/query/"+url.PathEscape(queryID), nil)
	if err != nil {
		return fmt.Errorf("presto: %w", err)
	}
	return c.delete(ctx, req)
}

// Close releases idle connections. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(c.http.CloseIdleConnections)
	return nil
}

func (c *Client) newRequest(ctx context.Context, s *domain.Session, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("presto: %w", err)
	}
	setSessionHeaders(req.Header, s)
	if c.password != "" {
		req.SetBasicAuth(s.User, c.password)
	}
	return req, nil
}

func setSessionHeaders(h http.Header, s *domain.Session) {
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set(headerUser, s.User)
	set(headerSource, s.Source)
	set(headerCatalog, s.Catalog)
	set(headerSchema, s.Schema)
	set(headerTimeZone, s.TimeZone)
	set(headerLanguage, strings.ReplaceAll(s.Locale, "_", "-"))
	set(headerClientInfo, s.ClientInfo)
	set(headerClientTags, s.ClientTag)

	keys := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Add(headerSession, k+"="+url.QueryEscape(s.Properties[k]))
	}
}

// fetch performs req and decodes a QueryResults body.
func (c *Client) fetch(ctx context.Context, s *domain.Session, req *http.Request) (*domain.QueryResults, error) {
	if s != nil && s.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.RequestTimeout)
		defer cancel()
		req = req.WithContext(ctx)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var qr domain.QueryResults
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&qr); err != nil {
		return nil, fmt.Errorf("presto: decode response: %w", err)
	}
	return &qr, nil
}

func (c *Client) delete(ctx context.Context, req *http.Request) error {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		var he *HTTPError
		if errors.As(err, &he) && (he.StatusCode == http.StatusNoContent || he.StatusCode == http.StatusNotFound || he.StatusCode == http.StatusGone) {
			return nil
		}
		return err
	}
	return resp.Body.Close()
}

// roundTrip performs req, retrying 503 responses with a growing delay until
// ctx is done. Any status other than 200 is returned as *HTTPError.
func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	delay := 100 * time.Millisecond
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("presto: %w", err)
			}
			req.Body = body
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("presto: %s %s: %w", req.Method, req.URL.Path, err)
		}
		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil
		case http.StatusServiceUnavailable:
			_ = resp.Body.Close()
			c.logger.Debug("presto unavailable, retrying", "url", req.URL.String(), "delay", delay)
			timer.Reset(delay)
			delay = time.Duration(math.Min(float64(delay)*math.Phi, float64(maxRetryDelay)))
		default:
			return nil, newHTTPError(resp)
		}
	}
}

func newHTTPError(resp *http.Response) *HTTPError {
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Body: err.Error()}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
