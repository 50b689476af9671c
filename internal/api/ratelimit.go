// Per-wallet throttle for the write endpoints. Agents authenticate by
// wallet, so the write budget follows the actor rather than the source
// address: one bot farm behind many proxies still shares one budget per
// registered wallet.
package api

import (
	"sync"
	"time"
)

// Limiter grants each key a fixed number of slots per rolling window.
type Limiter struct {
	mu     sync.Mutex
	seen   map[string]*window
	limit  int
	period time.Duration
}

type window struct {
	used  int
	start time.Time
}

// evictAbove bounds the key map; stale windows are swept once it is crossed.
const evictAbove = 4096

// NewLimiter returns a limiter granting limit requests per period per key.
func NewLimiter(limit int, period time.Duration) *Limiter {
	return &Limiter{
		seen:   make(map[string]*window),
		limit:  limit,
		period: period,
	}
}

// Allow consumes one slot for key. When the budget is spent it reports false
// along with the wait until the key's window rolls over.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.seen[key]
	if !ok || now.Sub(w.start) >= l.period {
		if len(l.seen) >= evictAbove {
			l.sweep(now)
		}
		l.seen[key] = &window{used: 1, start: now}
		return true, 0
	}

	if w.used < l.limit {
		w.used++
		return true, 0
	}
	return false, w.start.Add(l.period).Sub(now)
}

// sweep drops every window that has already rolled over. Caller holds the lock.
func (l *Limiter) sweep(now time.Time) {
	for key, w := range l.seen {
		if now.Sub(w.start) >= l.period {
			delete(l.seen, key)
		}
	}
}
