package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides per-identifier rate limiting using a token bucket per
// identifier (typically a client IP, or a user+application pair for security
// event throttling). Idle entries are swept periodically so the map cannot
// grow without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	limit rate.Limit
	burst int

	maxEntries int
	idleAfter  time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
	logger      *slog.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	defaultMaxEntries      = 10000
	defaultIdleAfter       = 10 * time.Minute
	defaultCleanupInterval = time.Minute
)

// NewRateLimiter creates a rate limiter allowing requestsPerInterval events
// per interval with the given burst, and starts a background sweep of idle
// entries. Call Stop when done.
func NewRateLimiter(requestsPerInterval int, interval time.Duration, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if burst < 1 {
		burst = 1
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*limiterEntry),
		limit:       rate.Limit(float64(requestsPerInterval) / interval.Seconds()),
		burst:       burst,
		maxEntries:  defaultMaxEntries,
		idleAfter:   defaultIdleAfter,
		stopCleanup: make(chan struct{}),
		logger:      logger,
	}
	go rl.cleanupLoop(defaultCleanupInterval)
	return rl
}

// Allow reports whether the identifier may proceed. A nil RateLimiter always
// allows, so callers can leave throttling unconfigured.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[identifier]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			// Fail closed for new identifiers when the table is full; known
			// identifiers keep their buckets.
			rl.logger.Warn("rate limiter entry table full, rejecting new identifier")
			return false
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[identifier] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine. Idempotent.
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

func (rl *RateLimiter) sweep() {
	cutoff := time.Now().Add(-rl.idleAfter)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, id)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter sweep", "removed", removed, "remaining", len(rl.limiters))
	}
}
