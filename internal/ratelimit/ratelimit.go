// Package ratelimit implements a per-credential token bucket rate
// limiter. Buckets live only in memory and are lost on restart.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Result is the outcome of a single Check call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetSecs int
}

type bucket struct {
	tokens      float64
	max         float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
}

// Limiter holds one bucket per credential ID behind a single mutex;
// at the scale this gateway operates at, a single lock is sufficient.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates an empty limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check consumes one token for id if available. limit is the
// credential's configured requests-per-minute; limit == 0 means
// unlimited and always allows without allocating a bucket.
func (l *Limiter) Check(id string, limit int) Result {
	if limit == 0 {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	refillRate := float64(limit) / 60.0

	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{
			tokens:     float64(limit),
			max:        float64(limit),
			refillRate: refillRate,
			lastRefill: now,
		}
		l.buckets[id] = b
	}

	if b.max != float64(limit) {
		b.max = float64(limit)
		b.refillRate = refillRate
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.max, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		remaining := int(math.Floor(b.tokens))
		resetSecs := 0
		if remaining == 0 {
			resetSecs = int(math.Ceil(1.0 / b.refillRate))
		}
		return Result{Allowed: true, Limit: limit, Remaining: remaining, ResetSecs: resetSecs}
	}

	resetSecs := int(math.Ceil((1.0 - b.tokens) / b.refillRate))
	return Result{Allowed: false, Limit: limit, Remaining: 0, ResetSecs: resetSecs}
}

// Remove evicts a credential's bucket, used when the credential is
// deleted or its key is regenerated.
func (l *Limiter) Remove(id string) {
	l.mu.Lock()
	delete(l.buckets, id)
	l.mu.Unlock()
}
