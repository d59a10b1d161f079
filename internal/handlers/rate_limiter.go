package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts hits per key in fixed windows. It throttles
// the order status poll endpoint per order id, so the map stays small and
// a background sweeper is unnecessary: expired entries are pruned whenever
// a new window opens.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]window
}

type window struct {
	hits    int
	resetAt time.Time
}

func newFixedWindowLimiter(limit int, windowSize time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || windowSize <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  windowSize,
		clock:   clock,
		windows: make(map[string]window),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.resetAt) {
		l.windows[key] = window{hits: 1, resetAt: now.Add(l.window)}
		l.dropExpiredLocked(now)
		return true
	}
	if current.hits >= l.limit {
		return false
	}
	current.hits++
	l.windows[key] = current
	return true
}

func (l *fixedWindowLimiter) dropExpiredLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
