package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/otakuscrape/config"
	"github.com/use-agent/otakuscrape/models"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL   = time.Hour
	limiterSweepEach = 5 * time.Minute
)

// keyedLimiters holds one token bucket per identity.
type keyedLimiters struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiters(cfg config.RateLimitConfig) *keyedLimiters {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &keyedLimiters{
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

// allow takes a token from identity's bucket at now.
func (k *keyedLimiters) allow(identity string, now time.Time) bool {
	k.mu.Lock()
	b, ok := k.buckets[identity]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[identity] = b
	}
	b.lastSeen = now
	k.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// evict drops buckets not used since cutoff and returns how many went.
func (k *keyedLimiters) evict(cutoff time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for id, b := range k.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(k.buckets, id)
			n++
		}
	}
	return n
}

// retryAfter is the wait, in whole seconds, for one token to refill.
func (k *keyedLimiters) retryAfter() int {
	if k.limit <= 0 || k.limit == rate.Inf {
		return 1
	}
	return int(math.Max(1, math.Ceil(1/float64(k.limit))))
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate.
//
// Buckets unused for an hour are evicted by a sweeper started with the
// first request.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiters := newKeyedLimiters(cfg)
	var sweeper sync.Once

	return func(c *gin.Context) {
		sweeper.Do(func() {
			go func() {
				ticker := time.NewTicker(limiterSweepEach)
				defer ticker.Stop()
				for range ticker.C {
					limiters.evict(time.Now().Add(-limiterIdleTTL))
				}
			}()
		})

		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(APIKeyKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		if !limiters.allow(identity, time.Now()) {
			c.Header("Retry-After", strconv.Itoa(limiters.retryAfter()))
			abort(c, http.StatusTooManyRequests, models.KindRateLimited, "rate limit exceeded, please slow down")
			return
		}

		c.Next()
	}
}
