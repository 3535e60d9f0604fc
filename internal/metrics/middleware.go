package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phqovo/slimming/internal/logging"
)

// Middleware instruments every request: it threads the X-Run-ID correlation
// header through the request context (minting one when absent), records
// latency and throughput, and logs the completed request with the run ID.
func Middleware(m *Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		runID := c.GetHeader("X-Run-ID")
		if runID == "" {
			runID = logging.NewRunID()
		}
		ctx := logging.WithRunID(c.Request.Context(), runID)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set("X-Run-ID", runID)

		m.IncHTTPRequestsInFlight()
		c.Next()
		m.DecHTTPRequestsInFlight()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		m.RecordRequestLatency(endpoint, c.Request.Method, status, duration)
		m.RecordHTTPRequest(endpoint, c.Request.Method, status)

		if len(c.Errors) > 0 {
			logger.ErrorWithContext(ctx, "request error", "error", c.Errors.String())
		}
		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", duration,
		)
	}
}
