package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles webhook deliveries per source key.
type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts deliveries in fixed windows. Gateways burst retries
// after an outage, so the window resets fully rather than sliding.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	counts map[string]windowSlot
}

type windowSlot struct {
	seen  int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		counts: make(map[string]windowSlot),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.counts[key]
	if !ok || now.After(slot.reset) {
		l.counts[key] = windowSlot{seen: 1, reset: now.Add(l.window)}
		l.dropStaleLocked(now)
		return true
	}

	if slot.seen >= l.limit {
		return false
	}
	slot.seen++
	l.counts[key] = slot
	return true
}

// dropStaleLocked evicts expired slots so one-off source addresses do not
// accumulate forever. Called with the mutex held.
func (l *windowLimiter) dropStaleLocked(now time.Time) {
	if len(l.counts) == 0 {
		return
	}
	for key, slot := range l.counts {
		if now.After(slot.reset) {
			delete(l.counts, key)
		}
	}
}
