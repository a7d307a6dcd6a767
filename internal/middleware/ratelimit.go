package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/cervicel-cytology-server/internal/domain"
)

// DefaultMaxClients bounds the number of per-client limiters kept in memory.
const DefaultMaxClients = 4096

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewRateLimiter creates a limiter allowing rps requests per second per client with
// the given burst. The least recently seen clients are evicted past maxClients.
func NewRateLimiter(rps float64, burst, maxClients int) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache,
	}, nil
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	if limiter, ok := rl.limiters.Get(client); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	// Another request may have raced us; keep whichever was stored first.
	if existing, ok, _ := rl.limiters.PeekOrAdd(client, limiter); ok {
		return existing
	}
	return limiter
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(client string) bool {
	return rl.limiterFor(client).Allow()
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		if !rl.Allow(c.ClientIP()) {
			retryAfter := time.Duration(float64(time.Second) / float64(rl.limit))
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": domain.NewAPIError(domain.ErrCodeRateLimit, "Too many requests", "", GetCorrelationID(c)),
			})
			return
		}
		c.Next()
	}
}
