package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPLimiter keeps one token bucket per client IP.
type IPLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	limiters map[string]*entry
	swept    time.Time
	now      func() time.Time
}

type entry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewIPLimiter allows perMinute requests per IP with a burst of the same size.
// A non-positive perMinute disables limiting.
func NewIPLimiter(perMinute int) *IPLimiter {
	l := &IPLimiter{
		burst:    perMinute,
		ttl:      10 * time.Minute,
		limiters: make(map[string]*entry),
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Limit(float64(perMinute) / 60)
	}
	return l
}

// GinMiddleware returns gin handler enforcing per-IP limits.
func (l *IPLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Allow consumes one token for key.
func (l *IPLimiter) Allow(key string) bool {
	if l.burst <= 0 {
		return true
	}
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold mu.
func (l *IPLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.ttl {
		return
	}
	for k, e := range l.limiters {
		if now.Sub(e.seen) > l.ttl {
			delete(l.limiters, k)
		}
	}
	l.swept = now
}
