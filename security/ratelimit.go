package security

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry couples a token-bucket limiter with its last access time
// so stale entries can be swept.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier rate limiting using the token
// bucket algorithm. Identifiers are typically client IPs or client IDs.
// Stale limiters are cleaned up in the background to bound memory.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry

	rate  int
	burst int

	staleAfter      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond with
// the given burst per identifier. Entries idle for over ten minutes are
// evicted by a background sweep.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:        make(map[string]*limiterEntry),
		rate:            requestsPerSecond,
		burst:           burst,
		staleAfter:      10 * time.Minute,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
		logger:          logger,
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether the identifier may proceed. A zero configured
// rate disables limiting entirely.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.limiters[identifier]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		}
		rl.limiters[identifier] = entry
	}
	entry.lastAccess = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	threshold := time.Now().Add(-rl.staleAfter)
	removed := 0
	for id, entry := range rl.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(rl.limiters, id)
			removed++
		}
	}

	if removed > 0 {
		rl.logger.Debug("Cleaned up stale rate limiters", "count", removed, "remaining", len(rl.limiters))
	}
}
