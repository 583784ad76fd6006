package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/metrics"
)

// RateLimiter is a fixed-window counter keyed by client IP. Windows are
// coarse; entries are swept once their window has passed.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a limiter with the given window and ceiling.
func NewRateLimiter(window time.Duration, max int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
		now:     now,
	}
}

// Allow counts a hit for key and reports whether it is within the window
// ceiling, along with the remaining budget and the window reset time.
func (l *RateLimiter) Allow(key string) (ok bool, remaining int, resetAt time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[key]
	if !exists || !entry.resetAt.After(now) {
		entry = &windowEntry{resetAt: now.Add(l.window)}
		l.entries[key] = entry
	}
	entry.count++

	remaining = l.max - entry.count
	if remaining < 0 {
		remaining = 0
	}
	return entry.count <= l.max, remaining, entry.resetAt
}

// Sweep drops entries whose window has passed.
func (l *RateLimiter) Sweep() {
	now := l.now()
	l.mu.Lock()
	for key, entry := range l.entries {
		if !entry.resetAt.After(now) {
			delete(l.entries, key)
		}
	}
	metrics.RateLimitEntries.Set(float64(len(l.entries)))
	l.mu.Unlock()
}

// StartSweeper garbage-collects stale windows until stop is closed.
func (l *RateLimiter) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-stop:
				return
			}
		}
	}()
}

// RateLimit enforces the fixed-window limit per client IP. /health is
// exempt so probes never starve.
func (c *Chain) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		ok, remaining, resetAt := c.limiter.Allow(c.ClientIP(r))
		h := w.Header()
		h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", c.opts.RateMax))
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
		if !ok {
			retryAfter := int(resetAt.Sub(c.opts.Now()).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
			h.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			metrics.RateLimitedTotal.Inc()
			httperr.Write(w, httperr.TooManyRequests("Too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
