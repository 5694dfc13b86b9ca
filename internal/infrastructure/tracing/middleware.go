package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// HTTPMiddleware starts a span per request, continuing the caller's trace
// when the request carries trace headers.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTraceID(c.Request.Context(), TraceID(c.GetHeader(TraceHeader)))
		if parentID := c.GetHeader(SpanHeader); parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, SpanID(parentID))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.remote", c.ClientIP())

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
