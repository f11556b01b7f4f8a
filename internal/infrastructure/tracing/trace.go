package tracing

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/framerender/internal/shared/id"
)

// Header names used for trace propagation
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

const spanBuffer = 1024

// TraceID identifies one request across the service and its upstream calls
type TraceID string

// SpanID identifies one operation within a trace
type SpanID string

// Span is one timed operation. A span is owned by the goroutine that
// started it until it is submitted.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string

	start  time.Time
	end    time.Time
	tags   map[string]string
	err    error
	status int
}

// SetTag attaches a key/value to the span
func (s *Span) SetTag(key, value string) {
	s.tags[key] = value
}

// SetError marks the span failed
func (s *Span) SetError(err error) {
	s.err = err
}

// SetStatus records the HTTP status of the span
func (s *Span) SetStatus(code int) {
	s.status = code
}

// Finish stops the span clock. Calling it again has no effect.
func (s *Span) Finish() {
	if s.end.IsZero() {
		s.end = time.Now()
	}
}

// Duration is the time between start and Finish
func (s *Span) Duration() time.Duration {
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Tracer hands out spans and logs finished ones from a single collector
// goroutine. Spans slower than the slow threshold are logged at info level,
// failed ones at warn, the rest at debug.
type Tracer struct {
	service string
	logger  *zap.Logger
	slow    time.Duration

	spans chan *Span
	done  chan struct{}
	stop  chan struct{}
}

// New starts a tracer for service
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger.With(zap.String("service", service)),
		slow:    5 * time.Second,
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go t.collect()
	return t
}

// WithSlowThreshold changes the duration above which spans are logged at
// info level
func (t *Tracer) WithSlowThreshold(d time.Duration) *Tracer {
	t.slow = d
	return t
}

// StartSpan opens a span that continues the trace carried by ctx, or a new
// trace when ctx carries none
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = TraceID(id.ULID())
	}
	parent, _ := ctx.Value(spanIDKey).(SpanID)

	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.ULID()),
		ParentID: parent,
		Name:     name,
		start:    time.Now(),
		tags:     make(map[string]string),
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Submit hands a finished span to the collector. Spans are dropped when
// the buffer is full or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	span.Finish()

	select {
	case <-t.stop:
		return
	default:
	}

	select {
	case t.spans <- span:
	case <-t.stop:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name))
	}
}

// Close stops accepting spans and waits until buffered ones are logged
func (t *Tracer) Close() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	<-t.done
}

func (t *Tracer) collect() {
	defer close(t.done)
	for {
		select {
		case span := <-t.spans:
			t.log(span)
		case <-t.stop:
			for {
				select {
				case span := <-t.spans:
					t.log(span)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracer) log(span *Span) {
	fields := make([]zap.Field, 0, 6+len(span.tags))
	fields = append(fields,
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration()))
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.status != 0 {
		fields = append(fields, zap.Int("status", span.status))
	}

	keys := make([]string, 0, len(span.tags))
	for k := range span.tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, span.tags[k]))
	}

	switch {
	case span.err != nil:
		t.logger.Warn("span completed with error", append(fields, zap.Error(span.err))...)
	case span.Duration() >= t.slow:
		t.logger.Info("slow span completed", fields...)
	default:
		t.logger.Debug("span completed", fields...)
	}
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

// ContextWithRemote continues a trace started by a caller. Empty ids are
// ignored.
func ContextWithRemote(ctx context.Context, traceID TraceID, parent SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parent != "" {
		ctx = context.WithValue(ctx, spanIDKey, parent)
	}
	return ctx
}

// TraceIDFrom returns the trace carried by ctx
func TraceIDFrom(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// Inject copies the trace carried by ctx into outbound request headers
func Inject(ctx context.Context, h http.Header) {
	if traceID := TraceIDFrom(ctx); traceID != "" {
		h.Set(HeaderTraceID, string(traceID))
	}
	if spanID, ok := ctx.Value(spanIDKey).(SpanID); ok && spanID != "" {
		h.Set(HeaderSpanID, string(spanID))
	}
}
