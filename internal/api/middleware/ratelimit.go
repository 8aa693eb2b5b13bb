package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"community-hub/internal/api/response"
)

type slidingWindowCounter struct {
	mu         sync.Mutex
	timestamps []int64
}

// RateLimiter keeps one sliding window per key. Each route group gets its own
// limiter so budgets do not leak across endpoints.
type RateLimiter struct {
	limit   int
	window  time.Duration
	entries sync.Map
	now     func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// Allow records a hit for key and reports whether it fits the window.
func (l *RateLimiter) Allow(key string) bool {
	if key == "" {
		key = "global"
	}

	entryAny, _ := l.entries.LoadOrStore(key, &slidingWindowCounter{
		timestamps: make([]int64, 0, l.limit),
	})
	entry := entryAny.(*slidingWindowCounter)

	now := l.now().UnixNano()
	cutoff := now - l.window.Nanoseconds()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts > cutoff {
			next = append(next, ts)
		}
	}
	entry.timestamps = next

	if len(entry.timestamps) >= l.limit {
		return false
	}
	entry.timestamps = append(entry.timestamps, now)
	return true
}

// Middleware keys requests by "ip" or "user_id".
func (l *RateLimiter) Middleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(resolveRateLimitKey(c, key)) {
			response.Fail(c, 429, response.ErrRateLimited, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}

func resolveRateLimitKey(c *gin.Context, key string) string {
	switch strings.TrimSpace(key) {
	case "user_id":
		if identity, ok := GetIdentity(c); ok {
			return "user_id:" + identity.UserID.String()
		}
		return "user_id:anonymous:" + c.ClientIP()
	default:
		return "ip:" + c.ClientIP()
	}
}
