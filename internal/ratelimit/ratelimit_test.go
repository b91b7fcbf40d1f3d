package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenExhaustion(t *testing.T) {
	l := NewLimiter(10, 5)
	now := time.Now()
	l.lastUpdate = now

	for i := 0; i < 5; i++ {
		assert.True(t, l.allowAt(now), "burst token %d", i)
	}
	assert.False(t, l.allowAt(now))
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(10, 5)
	now := time.Now()
	l.lastUpdate = now

	for i := 0; i < 5; i++ {
		l.allowAt(now)
	}
	assert.False(t, l.allowAt(now))

	// 10/s for 200ms refills two tokens
	later := now.Add(200 * time.Millisecond)
	assert.True(t, l.allowAt(later))
	assert.True(t, l.allowAt(later))
	assert.False(t, l.allowAt(later))
}

func TestTokensCappedAtBurst(t *testing.T) {
	l := NewLimiter(100, 3)
	now := time.Now()
	l.lastUpdate = now

	// a long idle period must not bank more than burst tokens
	later := now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, l.allowAt(later), "token %d", i)
	}
	assert.False(t, l.allowAt(later))
}
