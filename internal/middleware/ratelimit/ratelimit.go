package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"participation/internal/cache"
)

// Limiter throttles requests per client with a token bucket per client IP.
// Idle buckets expire from an LRU so the table stays bounded.
type Limiter struct {
	mu      sync.Mutex
	clients *cache.LRUCache[*rate.Limiter]
	limit   rate.Limit
	burst   int

	retryAfter string
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	Burst             int
	MaxClients        int
	IdleTimeout       time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		Burst:             20,
		MaxClients:        10000,
		IdleTimeout:       10 * time.Minute,
	}
}

// NewLimiter creates a new rate limiter
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.MaxClients <= 0 {
		config.MaxClients = def.MaxClients
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}

	return &Limiter{
		clients: cache.NewLRUCache(config.MaxClients, config.IdleTimeout, cache.WithSlidingExpiry[*rate.Limiter]()),
		limit:   rate.Limit(float64(config.RequestsPerMinute) / 60),
		burst:   config.Burst,

		retryAfter: strconv.Itoa(int(math.Ceil(60 / float64(config.RequestsPerMinute)))),
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *Limiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	bucket, ok := rl.clients.Get(clientIP)
	if !ok {
		bucket = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients.Set(clientIP, bucket)
	}
	rl.mu.Unlock()
	return bucket.Allow()
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	return rl.clients.Size()
}

// Cleaner exposes the client table so a cache.Manager can sweep it.
func (rl *Limiter) Cleaner() cache.Cleaner {
	return rl.clients
}

// Middleware creates HTTP middleware for rate limiting. Only the methods in
// methods are limited; with none given every request is.
func (rl *Limiter) Middleware(extractIP func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request), methods ...string) func(http.Handler) http.Handler {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(limited) > 0 && !limited[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.Allow(extractIP(r)) {
				w.Header().Set("Retry-After", rl.retryAfter)
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
