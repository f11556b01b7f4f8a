package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker is probing, too many requests")
)

// State of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

// Settings configures a Breaker. Zero values get defaults in New.
type Settings struct {
	// MaxRequests is how many trial calls are admitted while half-open, and
	// how many must succeed in a row to close again.
	MaxRequests uint32
	// Interval is how often the closed-state counts are cleared
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful decides whether an error is the guarded dependency's
	// fault. Errors it accepts are recorded as successes.
	IsSuccessful func(err error) bool
	// OnStateChange is called with the breaker lock held; it must not call
	// back into the breaker.
	OnStateChange func(name string, from, to State)
}

// Counts are the outcomes recorded in the current window
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// Breaker stops calling a dependency that keeps failing. Used in front of
// Chromium launches and outbound HTTP.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu     sync.Mutex
	state  State
	counts Counts
	// window increments on every state change and counts reset, so results
	// of calls admitted in an earlier window are ignored
	window uint64
	// until is when the closed window ends or the open state expires
	until time.Time
}

// New creates a closed breaker
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}

	b := &Breaker{name: name, settings: settings, now: time.Now}
	b.until = b.now().Add(settings.Interval)
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving open to half-open once the
// timeout has passed
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked(b.now())
	return b.state
}

// Counts returns the counts of the current window
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked(b.now())
	return b.counts
}

// Allow reports whether a call would be admitted right now, without
// taking a half-open slot
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked(b.now())

	switch b.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		return b.counts.Requests < b.settings.MaxRequests
	}
	return true
}

// Execute runs fn when the breaker admits it and records the outcome. A
// panic in fn is recorded as a failure and re-raised.
func (b *Breaker) Execute(fn func() error) error {
	window, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			b.settle(window, false)
			panic(p)
		}
	}()

	err = fn()
	b.settle(window, b.settings.IsSuccessful(err))
	return err
}

// Call is Execute for functions that return a value
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked(b.now())

	switch {
	case b.state == StateOpen:
		return b.window, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests:
		return b.window, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.window, nil
}

func (b *Breaker) settle(window uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refreshLocked(now)
	if window != b.window {
		return
	}

	switch b.state {
	case StateClosed:
		if ok {
			b.counts.success()
			return
		}
		b.counts.failure()
		if b.settings.ReadyToTrip(b.counts) {
			b.transitionLocked(StateOpen, now)
		}
	case StateHalfOpen:
		if !ok {
			b.transitionLocked(StateOpen, now)
			return
		}
		b.counts.success()
		if b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.transitionLocked(StateClosed, now)
		}
	}
}

// refreshLocked applies time-driven changes: the closed window rolls over
// and an expired open state becomes half-open.
func (b *Breaker) refreshLocked(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.until) {
			b.counts = Counts{}
			b.window++
			b.until = now.Add(b.settings.Interval)
		}
	case StateOpen:
		if now.After(b.until) {
			b.transitionLocked(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.window++

	switch to {
	case StateClosed:
		b.until = now.Add(b.settings.Interval)
	case StateOpen:
		b.until = now.Add(b.settings.Timeout)
	case StateHalfOpen:
		b.until = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
