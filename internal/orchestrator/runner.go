package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/browser"
	"github.com/GriffinCanCode/framerender/internal/domain/task"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framerender/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/framerender/internal/pool"
)

// Sessions hands out sessions with guaranteed release
type Sessions interface {
	Do(ctx context.Context, timeout time.Duration, fn func(*browser.Session) bool) error
}

// Executor runs a task on a session
type Executor interface {
	Execute(ctx context.Context, s *browser.Session, t task.Task) task.Result
}

// Runner takes a task through validation, session acquisition and
// execution under a hard deadline, and always produces a Result.
type Runner struct {
	validator      *task.Validator
	sessions       Sessions
	exec           Executor
	logger         *zap.Logger
	tracer         *tracing.Tracer
	metrics        *monitoring.Metrics
	acquireTimeout time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithTracer opens a span per task
func WithTracer(t *tracing.Tracer) Option {
	return func(r *Runner) { r.tracer = t }
}

// WithMetrics records task outcomes
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithAcquireTimeout bounds the wait for a session
func WithAcquireTimeout(d time.Duration) Option {
	return func(r *Runner) { r.acquireTimeout = d }
}

// New creates a runner
func New(v *task.Validator, sessions Sessions, exec Executor, logger *zap.Logger, opts ...Option) *Runner {
	r := &Runner{
		validator: v,
		sessions:  sessions,
		exec:      exec,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes t. The execution deadline is t.Timeout, counted from the
// moment a session is acquired. When it passes, Run answers ActionTimeout
// at once and the session is released unhealthy, which closes it and
// aborts whatever the browser was still doing.
func (r *Runner) Run(ctx context.Context, t task.Task) task.Result {
	start := time.Now()

	var span *tracing.Span
	if r.tracer != nil {
		span, ctx = r.tracer.StartSpan(ctx, "task.run")
		span.SetTag("task.id", t.ID)
		span.SetTag("request.id", t.RequestID)
	}

	if err := r.validator.Validate(&t); err != nil {
		return r.finish(span, t, task.Failed(t, "", task.KindValidation, err.Error(), time.Since(start)))
	}

	var res task.Result
	err := r.sessions.Do(ctx, r.acquireTimeout, func(s *browser.Session) bool {
		res = r.execute(ctx, s, t)
		return browser.Healthy(res.Kind())
	})
	if err != nil {
		kind, msg := poolFailure(err)
		res = task.Failed(t, "", kind, msg, time.Since(start))
	}
	res.Duration = time.Since(start)
	return r.finish(span, t, res)
}

// RunRetrying runs t and repeats it up to retries more times while it fails
// with RuntimeCrash.
func (r *Runner) RunRetrying(ctx context.Context, t task.Task, retries int) task.Result {
	res := r.Run(ctx, t)
	for i := 0; i < retries && res.Kind() == task.KindCrash && ctx.Err() == nil; i++ {
		r.logger.Warn("retrying task after runtime crash",
			zap.String("task_id", t.ID),
			zap.Int("attempt", i+2),
			zap.String("message", res.Failure.Message))
		res = r.Run(ctx, t)
	}
	return res
}

func (r *Runner) execute(ctx context.Context, s *browser.Session, t task.Task) task.Result {
	start := time.Now()
	sid := s.ID.String()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	done := make(chan task.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("executor panicked",
					zap.String("task_id", t.ID),
					zap.String("session_id", sid),
					zap.Any("panic", p))
				done <- task.Failed(t, sid, task.KindCrash, "browser runtime failed", time.Since(start))
			}
		}()
		done <- r.exec.Execute(ctx, s, t)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		msg := fmt.Sprintf("task exceeded its %s deadline", t.Timeout)
		if errors.Is(ctx.Err(), context.Canceled) {
			msg = "task canceled by the client"
		}
		return task.Failed(t, sid, task.KindTimeout, msg, time.Since(start))
	}
}

func (r *Runner) finish(span *tracing.Span, t task.Task, res task.Result) task.Result {
	fields := []zap.Field{
		zap.String("task_id", t.ID),
		zap.String("request_id", t.RequestID),
		zap.String("session_id", res.SessionID),
		zap.String("capture", string(t.Capture.Format)),
		zap.Duration("duration", res.Duration),
	}
	if res.OK() {
		r.logger.Info("task succeeded", fields...)
	} else {
		fields = append(fields,
			zap.String("kind", string(res.Failure.Kind)),
			zap.String("message", res.Failure.Message))
		r.logger.Warn("task failed", fields...)
	}

	if r.metrics != nil {
		r.metrics.RecordTask(string(res.Kind()), string(t.Capture.Format), res.Duration)
	}
	if span != nil {
		span.SetTag("session.id", res.SessionID)
		if !res.OK() {
			span.SetTag("task.kind", string(res.Failure.Kind))
			span.SetError(errors.New(res.Failure.Message))
		}
		span.Finish()
		r.tracer.Submit(span)
	}
	return res
}

func poolFailure(err error) (task.Kind, string) {
	switch {
	case errors.Is(err, pool.ErrPoolTimeout):
		return task.KindPoolTimeout, "no browser session became available in time"
	case errors.Is(err, pool.ErrPoolClosed):
		return task.KindPoolTimeout, "service is shutting down"
	case errors.Is(err, pool.ErrLaunch):
		return task.KindCrash, "browser session could not be launched"
	default:
		return task.KindCrash, "browser session unavailable"
	}
}
