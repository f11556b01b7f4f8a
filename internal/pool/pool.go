package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
)

var (
	ErrPoolClosed  = errors.New("session pool is closed")
	ErrPoolTimeout = errors.New("session acquisition timeout")
	ErrLaunch      = errors.New("session launch failed")
)

// Retirement reasons
const (
	ReasonUnhealthy = "unhealthy"
	ReasonMaxUses   = "max_uses"
	ReasonMaxAge    = "max_age"
	ReasonIdle      = "idle"
	ReasonClosed    = "closed"
)

// Launcher creates and destroys sessions
type Launcher interface {
	Launch(ctx context.Context) (*browser.Session, error)
	Close(s *browser.Session) error
}

// Config holds pool limits
type Config struct {
	MinIdle        int
	MaxSessions    int
	MaxUses        int
	MaxAge         time.Duration
	MaxIdleTime    time.Duration
	AcquireTimeout time.Duration
	ReapInterval   time.Duration
	LaunchTimeout  time.Duration
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Idle     int    `json:"idle"`
	Busy     int    `json:"busy"`
	Creating int    `json:"creating"`
	Waiting  int    `json:"waiting"`
	Max      int    `json:"max"`
	PeakBusy int    `json:"peak_busy"`
	Created  uint64 `json:"created"`
	Retired  uint64 `json:"retired"`
	Timeouts uint64 `json:"timeouts"`
	Closed   bool   `json:"closed"`
}

// grant is what a waiter receives: a session, permission to launch one,
// or an error when the pool closes.
type grant struct {
	session *browser.Session
	create  bool
	err     error
}

type waiter struct {
	ch      chan grant
	granted bool
}

// Pool is a bounded set of browser sessions. Callers queue in FIFO order;
// a released session or freed slot always goes to the oldest waiter.
// busy + idle + creating never exceeds MaxSessions.
type Pool struct {
	cfg     Config
	rt      Launcher
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	idle     []*browser.Session
	busy     map[*browser.Session]struct{}
	creating int
	waiters  list.List
	closed   bool

	peakBusy int
	created  uint64
	retired  uint64
	timeouts uint64

	wg        sync.WaitGroup
	stop      chan struct{}
	startOnce sync.Once
}

// New creates a pool. Sessions are launched lazily until Start is called.
func New(cfg Config, rt Launcher, logger *zap.Logger) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.MinIdle > cfg.MaxSessions {
		cfg.MinIdle = cfg.MaxSessions
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 60 * time.Second
	}

	return &Pool{
		cfg:    cfg,
		rt:     rt,
		logger: logger,
		busy:   make(map[*browser.Session]struct{}),
		stop:   make(chan struct{}),
	}
}

// WithMetrics publishes pool gauges and counters to m
func (p *Pool) WithMetrics(m *monitoring.Metrics) *Pool {
	p.metrics = m
	return p
}

// Start pre-warms MinIdle sessions and starts the idle reaper
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.mu.Lock()
		if !p.closed {
			p.replenishLocked()
			p.wg.Add(1)
			go p.reapLoop()
		}
		p.mu.Unlock()

		p.logger.Info("session pool started",
			zap.Int("min_idle", p.cfg.MinIdle),
			zap.Int("max_sessions", p.cfg.MaxSessions),
			zap.Int("max_uses", p.cfg.MaxUses),
			zap.Duration("max_age", p.cfg.MaxAge))
	})
}

// Acquire returns a session held exclusively by the caller, waiting up to
// timeout (the configured default when zero). Every successful Acquire must
// be paired with exactly one Release.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*browser.Session, error) {
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.observeAcquire("closed", start)
		return nil, ErrPoolClosed
	}

	// Newcomers only skip the queue when nobody is waiting.
	if p.waiters.Len() == 0 {
		if s := p.popIdleLocked(); s != nil {
			p.markBusyLocked(s)
			p.publishLocked()
			p.mu.Unlock()
			p.observeAcquire("idle", start)
			return s, nil
		}
		if p.totalLocked() < p.cfg.MaxSessions {
			p.creating++
			p.publishLocked()
			p.mu.Unlock()
			return p.create(ctx, start)
		}
	}

	w := &waiter{ch: make(chan grant, 1)}
	elem := p.waiters.PushBack(w)
	p.publishLocked()
	p.mu.Unlock()

	select {
	case g := <-w.ch:
		return p.take(ctx, g, start)

	case <-ctx.Done():
		p.mu.Lock()
		if !w.granted {
			p.waiters.Remove(elem)
			p.timeouts++
			p.publishLocked()
			p.mu.Unlock()
			p.observeAcquire("timeout", start)
			return nil, ErrPoolTimeout
		}

		// Granted while timing out: hand the grant back
		g := <-w.ch
		var orphan *browser.Session
		switch {
		case g.session != nil:
			delete(p.busy, g.session)
			g.session.SetBusy(false)
			if p.closed {
				orphan = g.session
				p.retired++
			} else {
				p.returnLocked(g.session)
			}
		case g.create:
			p.creating--
			p.dispatchLocked()
		}
		if g.err == nil {
			p.timeouts++
		}
		p.publishLocked()
		p.mu.Unlock()

		if orphan != nil {
			p.closeSession(orphan, ReasonClosed)
		}
		if g.err != nil {
			p.observeAcquire("closed", start)
			return nil, g.err
		}
		p.observeAcquire("timeout", start)
		return nil, ErrPoolTimeout
	}
}

func (p *Pool) take(ctx context.Context, g grant, start time.Time) (*browser.Session, error) {
	switch {
	case g.err != nil:
		p.observeAcquire("closed", start)
		return nil, g.err
	case g.session != nil:
		p.observeAcquire("handoff", start)
		return g.session, nil
	default:
		return p.create(ctx, start)
	}
}

// create launches a session for a caller. The caller's slot is already
// counted in creating.
func (p *Pool) create(ctx context.Context, start time.Time) (*browser.Session, error) {
	s, err := p.launch(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.dispatchLocked()
		p.publishLocked()
		p.mu.Unlock()

		if ctx.Err() != nil {
			p.observeAcquire("timeout", start)
			return nil, ErrPoolTimeout
		}
		p.logger.Error("failed to launch session", zap.Error(err))
		p.observeAcquire("launch_error", start)
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	if p.closed {
		p.dispatchLocked()
		p.publishLocked()
		p.mu.Unlock()
		p.closeSession(s, ReasonClosed)
		p.observeAcquire("closed", start)
		return nil, ErrPoolClosed
	}

	p.created++
	p.markBusyLocked(s)
	p.publishLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.IncSessionsCreated()
	}
	p.observeAcquire("launched", start)
	p.logger.Debug("session created", zap.String("session_id", s.ID.String()))
	return s, nil
}

// Release hands a session back. Healthy sessions are reused unless they
// reached their use or age limit; unhealthy ones are closed and never handed
// out again. Releasing a session the pool does not hold is a no-op.
func (p *Pool) Release(s *browser.Session, healthy bool) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.busy[s]; !ok {
		p.mu.Unlock()
		p.logger.Warn("release of a session not held by the pool", zap.String("session_id", s.ID.String()))
		return
	}
	delete(p.busy, s)
	s.SetBusy(false)
	s.Done(healthy)

	reason := p.retireReasonLocked(s, healthy, time.Now())
	if reason == "" {
		p.returnLocked(s)
		p.publishLocked()
		p.mu.Unlock()
		return
	}

	p.retired++
	closed := p.closed
	if !closed {
		p.dispatchLocked()
		p.replenishLocked()
		p.wg.Add(1)
	}
	p.publishLocked()
	p.mu.Unlock()

	p.logger.Debug("retiring session",
		zap.String("session_id", s.ID.String()),
		zap.String("reason", reason),
		zap.Int("uses", s.Uses()))

	if closed {
		p.closeSession(s, reason)
		return
	}
	go func() {
		defer p.wg.Done()
		p.closeSession(s, reason)
	}()
}

// Do acquires a session, runs fn and releases the session on every exit
// path. fn reports whether the session is still healthy; a panic in fn
// releases it as unhealthy and keeps unwinding.
func (p *Pool) Do(ctx context.Context, timeout time.Duration, fn func(*browser.Session) bool) error {
	s, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}

	healthy := false
	defer func() { p.Release(s, healthy) }()
	healthy = fn(s)
	return nil
}

// Close stops background work, fails all waiters and closes idle sessions.
// Busy sessions are closed when they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.granted = true
		w.ch <- grant{err: ErrPoolClosed}
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.retired += uint64(len(idle))
	p.publishLocked()
	p.mu.Unlock()

	close(p.stop)
	for _, s := range idle {
		p.closeSession(s, ReasonClosed)
	}
	p.wg.Wait()

	p.logger.Info("session pool closed", zap.Int("closed_idle", len(idle)))
	return nil
}

// Stats returns current pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// Sessions lists the sessions the pool currently holds
func (p *Pool) Sessions() []browser.Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	infos := make([]browser.Info, 0, len(p.idle)+len(p.busy))
	for s := range p.busy {
		infos = append(infos, s.Info())
	}
	for _, s := range p.idle {
		infos = append(infos, s.Info())
	}
	return infos
}

func (p *Pool) statsLocked() Stats {
	return Stats{
		Idle:     len(p.idle),
		Busy:     len(p.busy),
		Creating: p.creating,
		Waiting:  p.waiters.Len(),
		Max:      p.cfg.MaxSessions,
		PeakBusy: p.peakBusy,
		Created:  p.created,
		Retired:  p.retired,
		Timeouts: p.timeouts,
		Closed:   p.closed,
	}
}

func (p *Pool) totalLocked() int {
	return len(p.idle) + len(p.busy) + p.creating
}

// popIdleLocked takes the most recently used idle session
func (p *Pool) popIdleLocked() *browser.Session {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	s := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	return s
}

func (p *Pool) markBusyLocked(s *browser.Session) {
	p.busy[s] = struct{}{}
	s.SetBusy(true)
	if len(p.busy) > p.peakBusy {
		p.peakBusy = len(p.busy)
	}
}

// returnLocked gives a healthy session to the oldest waiter, or parks it
func (p *Pool) returnLocked(s *browser.Session) {
	if w := p.nextWaiterLocked(); w != nil {
		p.markBusyLocked(s)
		w.ch <- grant{session: s}
		return
	}
	p.idle = append(p.idle, s)
}

// dispatchLocked serves queued waiters from idle sessions and free capacity
func (p *Pool) dispatchLocked() {
	for p.waiters.Len() > 0 {
		if s := p.popIdleLocked(); s != nil {
			w := p.nextWaiterLocked()
			p.markBusyLocked(s)
			w.ch <- grant{session: s}
			continue
		}
		if p.totalLocked() >= p.cfg.MaxSessions {
			return
		}
		w := p.nextWaiterLocked()
		p.creating++
		w.ch <- grant{create: true}
	}
}

func (p *Pool) nextWaiterLocked() *waiter {
	e := p.waiters.Front()
	if e == nil {
		return nil
	}
	w := p.waiters.Remove(e).(*waiter)
	w.granted = true
	return w
}

// replenishLocked launches sessions in the background until MinIdle are
// idle or launching. Waiters are served first.
func (p *Pool) replenishLocked() {
	if p.closed || p.waiters.Len() > 0 {
		return
	}
	for len(p.idle)+p.creating < p.cfg.MinIdle && p.totalLocked() < p.cfg.MaxSessions {
		p.creating++
		p.wg.Add(1)
		go p.warm()
	}
}

// launch gives up on rt.Launch once ctx ends. A session that still
// arrives afterwards was never counted and is closed in the background.
func (p *Pool) launch(ctx context.Context) (*browser.Session, error) {
	type launched struct {
		s   *browser.Session
		err error
	}
	done := make(chan launched, 1)
	go func() {
		s, err := p.rt.Launch(ctx)
		done <- launched{s, err}
	}()

	select {
	case l := <-done:
		return l.s, l.err
	case <-ctx.Done():
		go func() {
			l := <-done
			if l.s == nil {
				return
			}
			if err := p.rt.Close(l.s); err != nil {
				p.logger.Warn("failed to close late session",
					zap.String("session_id", l.s.ID.String()),
					zap.Error(err))
			}
		}()
		return nil, ctx.Err()
	}
}

func (p *Pool) warm() {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LaunchTimeout)
	defer cancel()
	s, err := p.launch(ctx)

	p.mu.Lock()
	p.creating--
	if err != nil {
		p.dispatchLocked()
		p.publishLocked()
		p.mu.Unlock()
		p.logger.Warn("failed to pre-warm session", zap.Error(err))
		return
	}
	if p.closed {
		p.publishLocked()
		p.mu.Unlock()
		p.closeSession(s, ReasonClosed)
		return
	}
	p.created++
	p.returnLocked(s)
	p.publishLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.IncSessionsCreated()
	}
	p.logger.Debug("session pre-warmed", zap.String("session_id", s.ID.String()))
}

func (p *Pool) retireReasonLocked(s *browser.Session, healthy bool, now time.Time) string {
	switch {
	case p.closed:
		return ReasonClosed
	case !healthy || s.Closed():
		return ReasonUnhealthy
	case p.cfg.MaxUses > 0 && s.Uses() >= p.cfg.MaxUses:
		return ReasonMaxUses
	case p.cfg.MaxAge > 0 && s.Age(now) >= p.cfg.MaxAge:
		return ReasonMaxAge
	}
	return ""
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reap(time.Now())
		case <-p.stop:
			return
		}
	}
}

// reap closes idle sessions past their age, and idle sessions beyond
// MinIdle that have not been used for MaxIdleTime. It then tops the pool
// back up to MinIdle.
func (p *Pool) reap(now time.Time) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}

	type victim struct {
		s      *browser.Session
		reason string
	}
	var victims []victim
	keep := p.idle[:0]
	// oldest first so the most recently used stay idle
	for i, s := range p.idle {
		remaining := len(p.idle) - i
		switch {
		case p.cfg.MaxAge > 0 && s.Age(now) >= p.cfg.MaxAge:
			victims = append(victims, victim{s, ReasonMaxAge})
		case p.cfg.MaxIdleTime > 0 && now.Sub(s.LastUsed()) >= p.cfg.MaxIdleTime &&
			len(keep)+remaining > p.cfg.MinIdle:
			victims = append(victims, victim{s, ReasonIdle})
		default:
			keep = append(keep, s)
		}
	}
	for i := len(keep); i < len(p.idle); i++ {
		p.idle[i] = nil
	}
	p.idle = keep
	p.retired += uint64(len(victims))
	p.dispatchLocked()
	p.replenishLocked()
	p.publishLocked()
	p.mu.Unlock()

	for _, v := range victims {
		p.closeSession(v.s, v.reason)
	}
	if len(victims) > 0 {
		p.logger.Debug("reaped idle sessions", zap.Int("count", len(victims)))
	}
	return len(victims)
}

func (p *Pool) closeSession(s *browser.Session, reason string) {
	if err := p.rt.Close(s); err != nil {
		p.logger.Warn("failed to close session",
			zap.String("session_id", s.ID.String()),
			zap.String("reason", reason),
			zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.IncSessionsRetired(reason)
	}
}

func (p *Pool) publishLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.SetPoolState(len(p.idle), len(p.busy), p.creating, p.waiters.Len())
}

func (p *Pool) observeAcquire(outcome string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveAcquire(outcome, time.Since(start))
	}
}
