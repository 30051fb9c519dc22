// Package ratelimit is a process-local fixed-window attempt counter used to
// throttle login, admin-password and setup requests.
//
// Counters live in this process only. Several server instances each keep
// their own windows; the limiter is advisory, not a distributed quota.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Result describes the outcome of one Check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window resets (min 1).
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter counts attempts per key within fixed windows.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// New returns an empty Limiter. A nil clock means time.Now.
func New(clock func() time.Time) *Limiter {
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{windows: make(map[string]*window), now: clock}
}

// Now is the limiter's clock.
func (l *Limiter) Now() time.Time { return l.now() }

// Check records one attempt for key. The first limit attempts of a window
// are allowed; the rest are denied until the window resets.
func (l *Limiter) Check(key string, limit int, per time.Duration) Result {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(per)}
		l.windows[key] = w
	}
	w.count++

	if w.count > limit {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}
	return Result{Allowed: true, Remaining: limit - w.count, ResetAt: w.resetAt}
}

// Reset forgets every window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.windows = make(map[string]*window)
	l.mu.Unlock()
}

// Sweep drops windows that have already reset and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// Key namespaces a client identifier by action, e.g. "login:10.0.0.7".
func Key(action, client string) string {
	return action + ":" + client
}

// ClientID derives a client identifier from forwarding headers or the
// connection address.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
