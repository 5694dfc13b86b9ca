package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Requests are
// labelled with the route template so /api/agents/:id stays one series.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

// Timer measures a relayed command.
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer starts a command timer.
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop records the command outcome and elapsed time.
func (t *Timer) Stop(outcome string) {
	t.metrics.RecordCommand(outcome, time.Since(t.start))
}
