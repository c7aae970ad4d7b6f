package presto

import (
	"context"
	"net/http"
	"sync"
	"time"

	"presto-notebook/internal/domain"
)

const closeTimeout = 5 * time.Second

// Statement is one in-flight query. The handle stays valid until Advance is
// called on a snapshot without a nextUri, or until Close.
type Statement struct {
	client  *Client
	session *domain.Session

	mu      sync.Mutex
	current *domain.QueryResults
	valid   bool
	closed  bool
}

var _ domain.StatementHandle = (*Statement)(nil)

// IsValid reports whether more snapshots may be consumed.
func (s *Statement) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid && !s.closed
}

// Current returns the latest snapshot.
func (s *Statement) Current() *domain.QueryResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsFailed reports whether the latest snapshot carries an engine error.
func (s *Statement) IsFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Error != nil
}

// FinalResults returns the last snapshot received.
func (s *Statement) FinalResults() *domain.QueryResults {
	return s.Current()
}

// Advance follows nextUri. Without a nextUri the handle becomes invalid.
func (s *Statement) Advance(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.valid {
		s.mu.Unlock()
		return nil
	}
	next := s.current.NextURI
	if next == "" {
		s.valid = false
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	req, err := s.client.newRequest(ctx, s.session, http.MethodGet, next, nil)
	if err != nil {
		return err
	}
	qr, err := s.client.fetch(ctx, s.session, req)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.current = qr
	}
	return nil
}

// Close abandons the query. When the query has not drained, its nextUri is
// deleted so the coordinator stops it. Safe to call more than once.
func (s *Statement) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	next := ""
	if s.valid && s.current != nil {
		next = s.current.NextURI
	}
	s.mu.Unlock()

	if next == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	req, err := s.client.newRequest(ctx, s.session, http.MethodDelete, next, nil)
	if err != nil {
		return err
	}
	return s.client.delete(ctx, req)
}
