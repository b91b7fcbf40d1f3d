// Package ratelimit provides the token bucket used to cap per-client
// message rates.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	rate  float64
	burst int

	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// NewLimiter allows rate events per second with bursts up to burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// Allow reports whether one more event may proceed now.
func (l *Limiter) Allow() bool {
	return l.allowAt(time.Now())
}

func (l *Limiter) allowAt(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	elapsed := now.Sub(l.lastUpdate).Seconds()
	if elapsed > 0 {
		l.lastUpdate = now
		l.tokens += elapsed * l.rate
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}
