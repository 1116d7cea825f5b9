// Package ratelimit bounds per-connection signaling message rates so a
// misbehaving client cannot starve other registered peers.
package ratelimit

import (
	"sync"
	"time"
)

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket refills at an integer rate (tokens/sec) using the provided
// Clock. Fractional refill is tracked in nanosecond-granularity remainders
// to avoid float rounding.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64
	// remainderNanos carries elapsed time that was too short to mint a whole
	// token at the configured rate.
	remainderNanos int64
	last           time.Time
}

// NewTokenBucket returns a bucket that starts full. A non-positive rate or
// capacity yields a bucket whose Allow always succeeds (limiting disabled).
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: capacity,
		last:      clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *TokenBucket) Allow() bool {
	if b.capacity <= 0 || b.rate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < 1 {
		return false
	}
	b.available--
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; move the reference point without refilling.
		b.last = now
		b.remainderNanos = 0
		return
	}

	elapsed := now.Sub(b.last).Nanoseconds() + b.remainderNanos
	b.last = now

	nanosPerToken := int64(time.Second) / b.rate
	if nanosPerToken <= 0 {
		nanosPerToken = 1
	}

	minted := elapsed / nanosPerToken
	b.remainderNanos = elapsed % nanosPerToken

	b.available += minted
	if b.available > b.capacity {
		b.available = b.capacity
		b.remainderNanos = 0
	}
}
