package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client-IP rate limiting for the admin API.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per client.
	Rate rate.Limit
	// Burst is the maximum burst size per client.
	Burst int
	// CleanupInterval is how often stale entries are removed.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

// DefaultRateLimit returns sensible defaults for an internal admin API:
// 10 requests/second with burst of 30 per client.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           30,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// rateLimitEntry tracks a per-client rate limiter and when it was last used.
type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter provides per-client-IP rate limiting.
type rateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	cfg     RateLimitConfig
}

// RateLimit returns an HTTP middleware that rate limits per client IP. The
// chi RealIP middleware runs earlier in the stack, so RemoteAddr reflects
// the true client.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	rl := &rateLimiter{
		entries: make(map[string]*rateLimitEntry),
		cfg:     cfg,
	}
	go rl.cleanupLoop()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(r.RemoteAddr) {
				slog.Warn("admin api rate limit exceeded", "client", r.RemoteAddr)
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow checks whether a request from the given client is allowed.
func (rl *rateLimiter) allow(client string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[client]
	if !ok {
		entry = &rateLimitEntry{
			limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst),
		}
		rl.entries[client] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// cleanupLoop periodically removes stale rate limiter entries.
func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup removes entries that haven't been seen within MaxAge.
func (rl *rateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	for client, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, client)
		}
	}
}
