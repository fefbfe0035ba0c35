package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultMaxRateLimiterEntries bounds the number of tracked identifiers.
	// Least recently used entries are evicted beyond this limit.
	defaultMaxRateLimiterEntries = 10000

	// rateLimiterIdleTimeout is how long an identifier may sit idle before
	// its limiter is reclaimed by the cleanup loop.
	rateLimiterIdleTimeout = 10 * time.Minute
)

// rateLimiterEntry tracks a limiter and its last access time
type rateLimiterEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter provides per-identifier token bucket rate limiting with LRU
// eviction to keep memory bounded under identifier churn.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*list.Element
	lruList  *list.List

	rate       int
	burst      int
	maxEntries int

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond sustained
// requests with the given burst per identifier. A nil logger uses the default.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  defaultMaxRateLimiterEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from the given identifier may proceed.
// A zero configured rate disables limiting entirely.
func (rl *RateLimiter) Allow(identifier string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[identifier]; ok {
		entry := elem.Value.(*rateLimiterEntry)
		entry.lastAccess = time.Now()
		rl.lruList.MoveToFront(elem)
		return entry.limiter.Allow()
	}

	// Evict the least recently used entry when at capacity
	if rl.maxEntries > 0 && len(rl.limiters) >= rl.maxEntries {
		oldest := rl.lruList.Back()
		if oldest != nil {
			evicted := oldest.Value.(*rateLimiterEntry)
			delete(rl.limiters, evicted.identifier)
			rl.lruList.Remove(oldest)
			rl.logger.Debug("Evicted rate limiter entry", "identifier", evicted.identifier)
		}
	}

	entry := &rateLimiterEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastAccess: time.Now(),
	}
	rl.limiters[identifier] = rl.lruList.PushFront(entry)

	return entry.limiter.Allow()
}

// Stop terminates the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup removes limiters idle for longer than rateLimiterIdleTimeout
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rateLimiterIdleTimeout)
	removed := 0

	for elem := rl.lruList.Back(); elem != nil; {
		entry := elem.Value.(*rateLimiterEntry)
		if entry.lastAccess.After(cutoff) {
			// LRU order: everything further forward is more recent
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.identifier)
		rl.lruList.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Cleaned up idle rate limiters", "removed", removed)
	}
}
