package browser

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/framerender/internal/shared/id"
)

// Session is one isolated browser context. The pool owns it; a runtime
// operates on it. At most one task holds a session at a time.
type Session struct {
	ID        id.SessionID
	CreatedAt time.Time

	mu         sync.Mutex
	lastUsedAt time.Time
	uses       int
	failures   int
	busy       bool

	// handle is the runtime-specific context (playwright.BrowserContext)
	handle any

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewSession creates a session wrapping a runtime handle
func NewSession(handle any) *Session {
	now := time.Now()
	return &Session{
		ID:         id.NewSessionID(),
		CreatedAt:  now,
		lastUsedAt: now,
		handle:     handle,
	}
}

// Handle returns the runtime-specific context
func (s *Session) Handle() any {
	return s.handle
}

// SetBusy marks the session as held or idle
func (s *Session) SetBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()
}

// Busy reports whether a task holds the session
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Done records a finished task
func (s *Session) Done(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uses++
	s.lastUsedAt = time.Now()
	if !healthy {
		s.failures++
	}
}

// Uses returns the number of tasks run on the session
func (s *Session) Uses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uses
}

// Failures returns the number of unhealthy task outcomes
func (s *Session) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// LastUsed returns when the session last finished a task
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Age returns how long the session has existed
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Closed reports whether the session has been closed
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// CloseWith runs fn the first time it is called and returns its error on
// every call.
func (s *Session) CloseWith(fn func() error) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if fn != nil {
			s.closeErr = fn()
		}
	})
	return s.closeErr
}

// Info is a point-in-time view of a session
type Info struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	Uses      int       `json:"uses"`
	Failures  int       `json:"failures"`
	Busy      bool      `json:"busy"`
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID.String(),
		CreatedAt: s.CreatedAt,
		LastUsed:  s.lastUsedAt,
		Uses:      s.uses,
		Failures:  s.failures,
		Busy:      s.busy,
	}
}
