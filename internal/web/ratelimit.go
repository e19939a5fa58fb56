package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// tokenLimiter keeps one token bucket per ingestion token.
type tokenLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newTokenLimiter(perSecond float64, burst int) *tokenLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &tokenLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *tokenLimiter) enabled() bool {
	return l.limit > 0
}

func (l *tokenLimiter) allow(token string) bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	entry, ok := l.limiters[token]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[token] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()
	return entry.limiter.Allow()
}

// sweep drops buckets that have been idle for longer than idle.
func (l *tokenLimiter) sweep(ctx context.Context, idle time.Duration) {
	if !l.enabled() {
		return
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for token, entry := range l.limiters {
				if now.Sub(entry.lastSeen) > idle {
					delete(l.limiters, token)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.Param("token")) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
