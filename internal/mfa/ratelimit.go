package mfa

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// attemptLimiter throttles verification and code-request attempts, one
// token bucket per (user, method) key.
type attemptLimiter struct {
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAttemptLimiter(window time.Duration) *attemptLimiter {
	return &attemptLimiter{window: window, limiters: make(map[string]*rate.Limiter)}
}

// allow reports whether an attempt for the key may proceed now. A zero
// window means limiting is disabled.
func (l *attemptLimiter) allow(userID string, method Method) bool {
	if l.window <= 0 {
		return true
	}
	key := userID + "/" + string(method)

	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window), 1)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
