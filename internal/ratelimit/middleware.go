package ratelimit

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/victoria-analytics/traitmeter/internal/errors"
)

// Middleware enforces the per-IP limit and sets the standard rate limit
// headers on every response.
func Middleware(limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := limiter.Allow(c.ClientIP())

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

		if !result.Allowed {
			retryAfter := fmt.Sprintf("%.0f", result.RetryAfter.Seconds())
			c.Header("Retry-After", retryAfter)
			c.Error(errors.NewRateLimitError(retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}
