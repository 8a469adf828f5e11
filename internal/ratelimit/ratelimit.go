// Package ratelimit throttles credential and license-key guessing per client.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type RateLimit interface {
	Allow(key string) bool
}

type window struct {
	count int
	start time.Time
}

// FixedWindowLimiter allows maxRequests per key in each window.
type FixedWindowLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

func New(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		window:      interval,
		now:         time.Now,
		windows:     make(map[string]*window),
	}
}

// WithClock replaces the time source, for tests.
func (rl *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	rl.now = now
	return rl
}

func (rl *FixedWindowLimiter) Window() time.Duration {
	return rl.window
}

func (rl *FixedWindowLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	w := rl.windows[key]
	if w == nil || now.Sub(w.start) > rl.window {
		if rl.maxRequests <= 0 {
			return false
		}
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

// sweep drops expired windows at most once per window length.
func (rl *FixedWindowLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.window {
		return
	}
	for key, w := range rl.windows {
		if now.Sub(w.start) > rl.window {
			delete(rl.windows, key)
		}
	}
	rl.lastSweep = now
}

func (rl *FixedWindowLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// ClientIP keys requests by remote host. Run behind middleware.RealIP when
// the service sits behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with denied, or a bare 429.
func Middleware(rl RateLimit, key func(*http.Request) string, retryAfter time.Duration, denied http.Handler) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	if denied == nil {
		denied = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(key(r)) {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
				}
				denied.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
