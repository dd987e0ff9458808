// Package ratelimit implements sliding-window-log rate limiting with
// interchangeable in-process and Redis backends. Both backends give the
// same answer for the same request history: a request is allowed when the
// number of requests in the trailing window, including this one, does not
// exceed the limit.
//
// Rejected requests still occupy a window slot. A client that hammers a
// full window stays rejected until traffic actually stops, rather than
// being let through the moment the oldest entry ages out.
package ratelimit

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perimeterhq/perimeter/internal/metrics"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// Remaining is how many more requests fit in the current window.
	Remaining int
	// ResetAt is when the oldest windowed request ages out.
	ResetAt time.Time
	// Current is the number of requests in the window, this one included.
	Current int
}

// Limiter answers whether a keyed request fits within limit requests per
// window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

func record(backend string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	metrics.RateLimitDecisions.WithLabelValues(backend, outcome).Inc()
}

// Middleware rate limits by client IP with a fixed limit and window. It
// fails open: a backend error lets the request through rather than taking
// the API down with the limiter.
func Middleware(l Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := l.Allow(c.Request.Context(), "ip:"+c.ClientIP(), limit, window)
		if err != nil {
			c.Next()
			return
		}
		if !d.Allowed {
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
