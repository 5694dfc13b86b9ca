/*
Package tracing follows a request through the hub and on to the agent that
serves it.

Each HTTP request gets a span. The hub opens a child span for every command
it relays and sends the trace id along with the command, so the agent's log
lines for that command can be matched to the request that caused them.

	tracer := tracing.New("hub", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "hyperdeck.command")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

Trace context travels in the X-Trace-ID and X-Span-ID headers. Finished
spans are buffered (1000) and written to the log by a single collector.
*/
package tracing
