// Package session manages the lifecycle of open dialogs.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
)

// ErrSessionNotFound is returned for unknown, closed or expired dialogs.
var ErrSessionNotFound = errors.New("session: not found")

// Session holds one open dialog. Access to the form is serialised: every
// operation runs through Do, which applies pending async completions
// first.
type Session struct {
	ID        string    `json:"id"`
	Node      string    `json:"node"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.Mutex
	lastActiveAt time.Time
	form         *form.Form
}

func newSession(f *form.Form) *Session {
	now := time.Now()
	return &Session{
		ID:           f.ID(),
		Node:         f.Model().Definition().Name(),
		Mode:         f.Mode(),
		CreatedAt:    now,
		lastActiveAt: now,
		form:         f,
	}
}

// Do runs fn on the dialog.
func (s *Session) Do(fn func(f *form.Form) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.form.Closed() {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	s.lastActiveAt = time.Now()
	s.form.Flush()
	return fn(s.form)
}

// Pending returns a channel that is ready when async completions wait to
// be applied with Do.
func (s *Session) Pending() <-chan struct{} { return s.form.Pending() }

// LastActiveAt returns the time of the last operation.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActiveAt()) > timeout
}

// Closed reports whether the dialog was saved, cancelled or closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Closed()
}

func (s *Session) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.Cancel()
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager with the given timeouts.
func NewManager(maxAge, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// Add registers an open dialog and returns its session.
func (m *Manager) Add(f *form.Form) *Session {
	s := newSession(f)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get retrieves a session by ID. Expired sessions are cancelled and
// removed; closed ones are removed.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if s.Closed() || s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove cancels the dialog if it is still open and forgets the session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all closed, expired and idle sessions and returns how
// many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.Closed() || s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		s.cancel()
	}
	return len(stale)
}

// CloseAll cancels every open dialog.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.cancel()
	}
}

// Run calls Cleanup every interval until ctx is done, then closes every
// remaining dialog.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if n := m.Cleanup(); n > 0 {
				logger.FromContext(ctx).WithField("sessions", n).Debug("closed stale dialogs")
			}
		case <-ctx.Done():
			m.CloseAll()
			return
		}
	}
}
