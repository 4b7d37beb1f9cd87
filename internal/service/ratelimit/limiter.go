package ratelimit

import (
	"sync"
	"time"
)

const DefaultIdleTTL = 10 * time.Minute

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a keyed token bucket. All keys share one capacity and refill rate.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*bucket
	capacity float64
	refill   float64 // tokens per second
	idleTTL  time.Duration
	now      func() time.Time
}

// New creates a limiter allowing bursts of capacity and refillPerSec sustained.
// Buckets untouched for idleTTL are forgotten by Sweep.
func New(capacity, refillPerSec float64, idleTTL time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Limiter{
		m:        make(map[string]*bucket),
		capacity: capacity,
		refill:   refillPerSec,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep drops idle buckets and returns how many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.m {
		if b.last.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
