package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Default limits when none are configured
const (
	DefaultRequestsPerSec = 10
	DefaultBurst          = 20
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSec float64, burst int) *RateLimiter {
	if requestsPerSec <= 0 {
		requestsPerSec = DefaultRequestsPerSec
	}
	if burst < 1 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(requestsPerSec),
		burst:   burst,
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Middleware returns a Gin middleware that applies rate limiting
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.allow(ip) {
			log.Warn().
				Str("ip", ip).
				Float64("limit", float64(rl.limit)).
				Int("burst", rl.burst).
				Msg("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// CleanupOldEntries removes clients not seen within maxAge
func (rl *RateLimiter) CleanupOldEntries(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker prunes idle clients every interval until stop closes
func (rl *RateLimiter) StartCleanupWorker(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := rl.CleanupOldEntries(2 * interval); n > 0 {
					log.Debug().Int("removed", n).Msg("Rate limiter cleanup completed")
				}
			case <-stop:
				return
			}
		}
	}()
}
