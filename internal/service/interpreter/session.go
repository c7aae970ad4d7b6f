package interpreter

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"presto-notebook/internal/domain"
)

const (
	sessionSource       = "presto-notebook-interpreter"
	sessionClientPrefix = "presto-notebook-"
	connectTimeout      = 10 * time.Second
)

// SessionConfig holds the engine context shared by every user session.
type SessionConfig struct {
	Server   string
	User     string
	Catalog  string
	Schema   string
	TimeZone string
	Locale   string
}

// SessionRegistry owns one engine session per authenticated user.
type SessionRegistry struct {
	mu       sync.Mutex
	cfg      SessionConfig
	sessions map[string]*domain.Session
}

// NewSessionRegistry creates a registry that builds sessions from cfg.
func NewSessionRegistry(cfg SessionConfig) *SessionRegistry {
	if cfg.TimeZone == "" {
		cfg.TimeZone = time.Local.String()
	}
	if cfg.Locale == "" {
		cfg.Locale = "en_US"
	}
	return &SessionRegistry{
		cfg:      cfg,
		sessions: make(map[string]*domain.Session),
	}
}

// Get returns the user's session, creating it on first use.
func (r *SessionRegistry) Get(userID string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s := &domain.Session{
		Server:         r.cfg.Server,
		User:           r.cfg.User,
		Source:         sessionSource,
		ClientInfo:     sessionClientPrefix + userID,
		ClientTag:      uuid.NewString(),
		Catalog:        r.cfg.Catalog,
		Schema:         r.cfg.Schema,
		TimeZone:       r.cfg.TimeZone,
		Locale:         r.cfg.Locale,
		Properties:     map[string]string{},
		RequestTimeout: connectTimeout,
	}
	r.sessions[userID] = s
	return s
}

// Len returns the number of cached sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Reset drops every cached session.
func (r *SessionRegistry) Reset() {
	r.mu.Lock()
	r.sessions = make(map[string]*domain.Session)
	r.mu.Unlock()
}
