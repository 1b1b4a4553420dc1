package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
)

const rateLimiterCacheSize = 4096

// rateLimiter gates how often one identity may cast votes within a rolling
// window. Window state is held in a bounded LRU so abandoned identities age
// out instead of accumulating.
type rateLimiter struct {
	windows *lru.Cache[string, *voteWindow]
	window  time.Duration
	limit   int
	now     func() time.Time
}

type voteWindow struct {
	mu    sync.Mutex
	casts []time.Time
}

func newRateLimiter(window time.Duration, limit int) (*rateLimiter, error) {
	if window <= 0 {
		window = time.Minute
	}
	if limit <= 0 {
		limit = 20
	}
	windows, err := lru.New[string, *voteWindow](rateLimiterCacheSize)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{windows: windows, window: window, limit: limit, now: time.Now}, nil
}

func (l *rateLimiter) allow(identity string) bool {
	entry, ok := l.windows.Get(identity)
	if !ok {
		entry = &voteWindow{}
		l.windows.Add(identity, entry)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	kept := entry.casts[:0]
	for _, cast := range entry.casts {
		if cast.After(cutoff) {
			kept = append(kept, cast)
		}
	}
	entry.casts = kept

	if len(entry.casts) >= l.limit {
		return false
	}
	entry.casts = append(entry.casts, l.now())
	return true
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString(userIDContextKey)
		if identity == "" {
			identity = c.ClientIP()
		}
		if !l.allow(identity) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}
