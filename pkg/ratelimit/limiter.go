package ratelimit

import (
	"sync"
	"time"
)

// bucket is a single token bucket. Refill happens lazily on each take.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	mu         sync.Mutex
}

func (b *bucket) take(now time.Time, capacity int, refillRate float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(float64(capacity), b.tokens+elapsed*refillRate)
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

// Limiter applies a token-bucket limit per key. A key is typically a user
// ID or a client IP; each key gets its own bucket, created on first use.
type Limiter struct {
	buckets    map[string]*bucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	mu         sync.RWMutex
	now        func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a per-key limiter allowing bursts of capacity and a
// sustained refillRate tokens per second. Buckets idle longer than ttl are
// swept from memory; ttl 0 disables the sweep.
func NewLimiter(capacity int, refillRate float64, ttl time.Duration, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if ttl > 0 {
		go l.sweep()
	}

	return l
}

// Allow reports whether a request for key may proceed, consuming a token
// when it does.
func (l *Limiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(l.capacity), lastRefill: now}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.take(now, l.capacity, l.refillRate)
}

// Reset restores full capacity for key, typically after a successful
// verification.
func (l *Limiter) Reset(key string) {
	l.mu.RLock()
	b, exists := l.buckets[key]
	l.mu.RUnlock()
	if !exists {
		return
	}

	b.mu.Lock()
	b.tokens = float64(l.capacity)
	b.lastRefill = l.now()
	b.mu.Unlock()
}

// ActiveKeys returns how many buckets are currently held.
func (l *Limiter) ActiveKeys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for range ticker.C {
		now := l.now()
		l.mu.Lock()
		for key, b := range l.buckets {
			b.mu.Lock()
			idle := now.Sub(b.lastRefill) > l.ttl
			b.mu.Unlock()
			if idle {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
