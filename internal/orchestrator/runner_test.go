package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/framerender/internal/pool"
)

// fakeRuntime launches in-memory sessions and runs exec for each task
type fakeRuntime struct {
	exec       func(ctx context.Context, s *browser.Session, t task.Task) task.Result
	failLaunch atomic.Bool
	running    atomic.Int32
	peak       atomic.Int32
	calls      atomic.Int32
}

func (f *fakeRuntime) Launch(ctx context.Context) (*browser.Session, error) {
	if f.failLaunch.Load() {
		return nil, errors.New("no chromium")
	}
	return browser.NewSession(nil), nil
}

func (f *fakeRuntime) Close(s *browser.Session) error {
	return s.CloseWith(nil)
}

func (f *fakeRuntime) Execute(ctx context.Context, s *browser.Session, t task.Task) task.Result {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.exec == nil {
		return task.Succeeded(t, s.ID.String(), task.Output{Format: t.Capture.Format, Data: []byte("<html></html>")}, 0)
	}
	return f.exec(ctx, s, t)
}

// countingSessions records how many acquisitions were attempted
type countingSessions struct {
	*pool.Pool
	attempts atomic.Int32
}

func (c *countingSessions) Do(ctx context.Context, timeout time.Duration, fn func(*browser.Session) bool) error {
	c.attempts.Add(1)
	return c.Pool.Do(ctx, timeout, fn)
}

type harness struct {
	runner  *Runner
	pool    *pool.Pool
	rt      *fakeRuntime
	counter *countingSessions
	metrics *monitoring.Metrics
}

func newHarness(t *testing.T, maxSessions int, acquire time.Duration) *harness {
	t.Helper()
	rt := &fakeRuntime{}
	metrics := monitoring.NewMetrics()
	p := pool.New(pool.Config{MaxSessions: maxSessions, AcquireTimeout: acquire}, rt, zap.NewNop()).WithMetrics(metrics)
	t.Cleanup(func() { _ = p.Close() })

	v, err := task.NewValidator(task.Limits{
		DefaultTimeout: 2 * time.Second,
		MaxTimeout:     10 * time.Second,
		MaxActions:     10,
	})
	require.NoError(t, err)

	tracer := tracing.New("test", zap.NewNop())
	t.Cleanup(tracer.Close)

	counter := &countingSessions{Pool: p}
	runner := New(v, counter, rt, zap.NewNop(),
		WithAcquireTimeout(acquire),
		WithMetrics(metrics),
		WithTracer(tracer))
	return &harness{runner: runner, pool: p, rt: rt, counter: counter, metrics: metrics}
}

func validTask() task.Task {
	tk := task.New("req_test")
	tk.HTML = "<p>hello</p>"
	return tk
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, 1, time.Second)

	res := h.runner.Run(context.Background(), validTask())
	require.True(t, res.OK(), "%+v", res.Failure)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "req_test", res.RequestID)
	assert.Equal(t, 1, h.pool.Stats().Idle)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.TasksTotal.WithLabelValues("ok")))
}

func TestRunValidationFailureSkipsAcquisition(t *testing.T) {
	h := newHarness(t, 1, time.Second)

	tk := task.New("req_test")
	res := h.runner.Run(context.Background(), tk)

	assert.Equal(t, task.KindValidation, res.Kind())
	assert.Equal(t, int32(0), h.counter.attempts.Load())
	assert.Equal(t, int32(0), h.rt.calls.Load())
	assert.Equal(t, uint64(0), h.pool.Stats().Created)
}

func TestRunHardTimeout(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	heldCh := make(chan *browser.Session, 1)
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		heldCh <- s
		select {
		case <-time.After(5 * time.Second):
		case <-release:
		}
		return task.Succeeded(tk, s.ID.String(), task.Output{}, 5*time.Second)
	}

	tk := validTask()
	tk.Timeout = 2 * time.Second

	start := time.Now()
	res := h.runner.Run(context.Background(), tk)
	elapsed := time.Since(start)

	assert.Equal(t, task.KindTimeout, res.Kind())
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 3*time.Second)

	assert.Equal(t, 0, h.pool.Stats().Busy)
	held := <-heldCh
	assert.Eventually(t, held.Closed, time.Second, 5*time.Millisecond)
}

func TestRunBurstRespectsCeiling(t *testing.T) {
	const ceiling = 2
	h := newHarness(t, ceiling, 10*time.Second)
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		assert.LessOrEqual(t, h.pool.Stats().Busy, ceiling)
		time.Sleep(50 * time.Millisecond)
		return task.Succeeded(tk, s.ID.String(), task.Output{}, 0)
	}

	results := make([]task.Result, 2*ceiling)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.runner.Run(context.Background(), validTask())
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		assert.True(t, res.OK(), "%+v", res.Failure)
	}
	assert.LessOrEqual(t, int(h.rt.peak.Load()), ceiling)
	assert.Equal(t, int32(2*ceiling), h.rt.calls.Load())
	assert.LessOrEqual(t, h.pool.Stats().PeakBusy, ceiling)
}

func TestRunPoolTimeout(t *testing.T) {
	h := newHarness(t, 1, 30*time.Millisecond)
	release := make(chan struct{})
	started := make(chan struct{})
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		close(started)
		<-release
		return task.Succeeded(tk, s.ID.String(), task.Output{}, 0)
	}

	done := make(chan task.Result)
	go func() { done <- h.runner.Run(context.Background(), validTask()) }()
	<-started

	h.rt.exec = nil
	res := h.runner.Run(context.Background(), validTask())
	assert.Equal(t, task.KindPoolTimeout, res.Kind())
	assert.True(t, res.Kind().Retryable())

	close(release)
	assert.True(t, (<-done).OK())
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	h.rt.failLaunch.Store(true)

	res := h.runner.Run(context.Background(), validTask())
	assert.Equal(t, task.KindCrash, res.Kind())
	assert.Equal(t, 0, h.pool.Stats().Creating)
}

func TestRunExecutorPanic(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	var held *browser.Session
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		held = s
		panic("driver went away")
	}

	res := h.runner.Run(context.Background(), validTask())
	assert.Equal(t, task.KindCrash, res.Kind())
	assert.Equal(t, 0, h.pool.Stats().Busy)
	assert.Eventually(t, held.Closed, time.Second, 5*time.Millisecond)
}

func TestRunReleaseHealthByKind(t *testing.T) {
	tests := []struct {
		kind   task.Kind
		reused bool
	}{
		{task.KindNavigation, true},
		{task.KindTimeout, false},
		{task.KindCrash, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			h := newHarness(t, 1, time.Second)
			h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
				return task.Failed(tk, s.ID.String(), tt.kind, "injected", 0)
			}

			first := h.runner.Run(context.Background(), validTask())
			assert.Equal(t, tt.kind, first.Kind())

			h.rt.exec = nil
			second := h.runner.Run(context.Background(), validTask())
			require.True(t, second.OK())
			assert.Equal(t, tt.reused, first.SessionID == second.SessionID)
		})
	}
}

func TestRunRetrying(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	var attempts atomic.Int32
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		if attempts.Add(1) == 1 {
			return task.Failed(tk, s.ID.String(), task.KindCrash, "target closed", 0)
		}
		return task.Succeeded(tk, s.ID.String(), task.Output{}, 0)
	}

	res := h.runner.RunRetrying(context.Background(), validTask(), 1)
	assert.True(t, res.OK())
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRunRetryingStopsOnOtherFailures(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		return task.Failed(tk, s.ID.String(), task.KindNavigation, "404", 0)
	}

	res := h.runner.RunRetrying(context.Background(), validTask(), 3)
	assert.Equal(t, task.KindNavigation, res.Kind())
	assert.Equal(t, int32(1), h.rt.calls.Load())
}

func TestRunClientCancel(t *testing.T) {
	h := newHarness(t, 1, time.Second)
	h.rt.exec = func(ctx context.Context, s *browser.Session, tk task.Task) task.Result {
		<-ctx.Done()
		return task.Failed(tk, s.ID.String(), task.KindTimeout, "late", 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := h.runner.Run(ctx, validTask())
	assert.Equal(t, task.KindTimeout, res.Kind())
	assert.Equal(t, 0, h.pool.Stats().Busy)
}
