package ratelimit

import (
	"sync"
	"time"
)

// Limit is a bucket shape: Burst tokens, refilled at PerSecond
type Limit struct {
	Burst     float64
	PerSecond float64
}

// KeyedLimiter keeps one token bucket per key and evicts buckets that stay idle
// longer than idleTTL. Keys are arbitrary, e.g. caller id plus route template.
type KeyedLimiter struct {
	limiters map[string]*TokenBucket
	mu       sync.Mutex
	limit    Limit
	idleTTL  time.Duration
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewKeyedLimiter creates a KeyedLimiter and starts its eviction loop.
// An idleTTL of zero disables eviction.
func NewKeyedLimiter(limit Limit, idleTTL time.Duration) *KeyedLimiter {
	kl := newKeyedLimiter(limit, idleTTL, time.Now)

	if idleTTL > 0 {
		go kl.cleanupLoop(idleTTL)
	}

	return kl
}

func newKeyedLimiter(limit Limit, idleTTL time.Duration, now func() time.Time) *KeyedLimiter {
	return &KeyedLimiter{
		limiters: make(map[string]*TokenBucket),
		limit:    limit,
		idleTTL:  idleTTL,
		now:      now,
		stopChan: make(chan struct{}),
	}
}

// Allow takes a token from key's bucket
func (kl *KeyedLimiter) Allow(key string) (bool, time.Duration) {
	return kl.getLimiter(key).Reserve(1)
}

// getLimiter returns the token bucket for the given key
func (kl *KeyedLimiter) getLimiter(key string) *TokenBucket {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	limiter, exists := kl.limiters[key]

	if !exists {
		limiter = newTokenBucket(kl.limit.Burst, kl.limit.PerSecond, kl.now)
		kl.limiters[key] = limiter
	}
	return limiter
}

// Evict drops buckets idle for longer than the TTL and returns how many were removed
func (kl *KeyedLimiter) Evict() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	cutoff := kl.now().Add(-kl.idleTTL)
	removed := 0

	for key, limiter := range kl.limiters {
		if limiter.lastUsed().Before(cutoff) {
			delete(kl.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets
func (kl *KeyedLimiter) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

func (kl *KeyedLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			kl.Evict()
		case <-kl.stopChan:
			return
		}
	}
}

// Stop stops the eviction loop
func (kl *KeyedLimiter) Stop() {
	kl.stopOnce.Do(func() { close(kl.stopChan) })
}
