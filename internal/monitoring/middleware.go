package monitoring

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records per-request metrics and emits one structured log line per
// request.
func Middleware(metrics *Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementRequest()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		metrics.RecordResponseTime(duration)
		metrics.RecordStatus(status)
		if status >= 400 {
			metrics.IncrementError()
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"ip", c.ClientIP(),
		)

		if duration > 5*time.Second {
			logger.Warn("slow request",
				"path", c.Request.URL.Path,
				"duration_ms", duration.Milliseconds())
		}
	}
}
