package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mycelic/cogmem/internal/ratelimit"
)

// RateLimitMiddleware gates every request through limiter, keyed by
// c.FullPath() (the registered gin route pattern, e.g.
// "/api/v1/memories/:id/migrate") as the per-tool dimension, grounded
// on the teacher's api.RateLimitMiddleware wiring of
// internal/ratelimit.Limiter into gin. ratelimit.DefaultConfig's Tools
// list uses these route patterns as names, so the POST routes for
// memories, search, migrate/freeze/unfreeze and insights resolve to a
// per-route bucket; routes without a matching entry (health,
// GET/DELETE /memories/:id, insight feedback, /metrics) are checked
// against the global bucket only.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || !limiter.IsEnabled() {
			c.Next()
			return
		}
		result := limiter.Allow(c.FullPath())
		if result != nil && !result.Allowed {
			c.Header("Retry-After", result.RetryAfter.String())
			ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

// MaxBodySizeMiddleware caps request body size, matching the teacher's
// per-route body-limit convention.
func MaxBodySizeMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

const (
	// DefaultBodyLimit bounds ordinary JSON request bodies (1 MiB).
	DefaultBodyLimit int64 = 1 << 20
	// IngestBodyLimit bounds the larger /search request bodies (8 MiB).
	IngestBodyLimit int64 = 8 << 20
)
