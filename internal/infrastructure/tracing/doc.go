/*
Package tracing provides lightweight request tracing.

Every HTTP request opens a span and the task runner opens a task.run child
span. Finished spans are logged through zap by one collector goroutine:
failed spans at warn, slow ones at info, the rest at debug.

	tracer := tracing.New("framerender", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "task.run")
	span.SetTag("session.id", sid)
	tracer.Submit(span)

Inbound X-Trace-ID / X-Span-ID headers are honoured and echoed back, so a
client can quote them when reporting a failed render. Inject carries the
trace onto outbound fetches.
*/
package tracing
