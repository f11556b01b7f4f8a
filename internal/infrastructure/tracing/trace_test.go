package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedTracer() (*Tracer, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return New("test", zap.New(core)), logs
}

func TestStartSpanInheritsTrace(t *testing.T) {
	tracer, _ := newObservedTracer()
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "GET /render.png")
	child, _ := tracer.StartSpan(ctx, "task.run")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
	assert.Equal(t, parent.TraceID, TraceIDFrom(ctx))
}

func TestContextWithRemote(t *testing.T) {
	tracer, _ := newObservedTracer()
	defer tracer.Close()

	ctx := ContextWithRemote(context.Background(), "trace-1", "span-0")
	span, _ := tracer.StartSpan(ctx, "op")
	assert.Equal(t, TraceID("trace-1"), span.TraceID)
	assert.Equal(t, SpanID("span-0"), span.ParentID)

	assert.Equal(t, TraceID(""), TraceIDFrom(ContextWithRemote(context.Background(), "", "")))
}

func TestInject(t *testing.T) {
	tracer, _ := newObservedTracer()
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "feed.build")
	h := http.Header{}
	Inject(ctx, h)
	assert.Equal(t, string(span.TraceID), h.Get(HeaderTraceID))
	assert.Equal(t, string(span.SpanID), h.Get(HeaderSpanID))

	empty := http.Header{}
	Inject(context.Background(), empty)
	assert.Empty(t, empty)
}

func TestSpanLogLevels(t *testing.T) {
	tracer, logs := newObservedTracer()
	tracer.WithSlowThreshold(time.Hour)

	ok, _ := tracer.StartSpan(context.Background(), "ok")
	ok.SetTag("task.id", "t1")
	tracer.Submit(ok)

	failed, _ := tracer.StartSpan(context.Background(), "failed")
	failed.SetError(errors.New("target closed"))
	tracer.Submit(failed)

	tracer.Close()

	done := logs.FilterMessage("span completed").All()
	require.Len(t, done, 1)
	assert.Equal(t, zap.DebugLevel, done[0].Level)
	assert.Equal(t, "t1", done[0].ContextMap()["task.id"])

	errored := logs.FilterMessage("span completed with error").All()
	require.Len(t, errored, 1)
	assert.Equal(t, zap.WarnLevel, errored[0].Level)
}

func TestSlowSpan(t *testing.T) {
	tracer, logs := newObservedTracer()
	tracer.WithSlowThreshold(0)

	span, _ := tracer.StartSpan(context.Background(), "task.run")
	tracer.Submit(span)
	tracer.Close()

	assert.Equal(t, 1, logs.FilterMessage("slow span completed").Len())
}

func TestSubmitAfterClose(t *testing.T) {
	tracer, logs := newObservedTracer()
	tracer.Close()
	tracer.Close()

	late, _ := tracer.StartSpan(context.Background(), "late")
	assert.NotPanics(t, func() { tracer.Submit(late) })
	assert.Equal(t, 0, logs.Len())
}

func TestFinishIsIdempotent(t *testing.T) {
	tracer, _ := newObservedTracer()
	defer tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "op")
	span.Finish()
	d := span.Duration()
	time.Sleep(2 * time.Millisecond)
	span.Finish()
	assert.Equal(t, d, span.Duration())
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newObservedTracer()

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/pool/stats", func(c *gin.Context) {
		seen = TraceIDFrom(c.Request.Context())
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/pool/stats", nil)
	req.Header.Set(HeaderTraceID, "trace-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, TraceID("trace-123"), seen)
	assert.Equal(t, "trace-123", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	tracer.Close()
	entries := logs.FilterMessage("span completed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "GET /pool/stats", entries[0].ContextMap()["operation"])
	assert.Equal(t, int64(200), entries[0].ContextMap()["status"])
	assert.Equal(t, "GET unmatched", entries[1].ContextMap()["operation"])
}
