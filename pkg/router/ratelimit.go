package router

import (
	"sync"
	"time"

	"github.com/arbiterhq/arbiter/pkg/config"
)

// rateLimiter implements per-intent token bucket rate limiting on the fast
// path. Intents without a configured rate share the default bucket settings.
type rateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
	cfg     config.RouterRateLimit
}

func newRateLimiter(cfg config.RouterRateLimit) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		cfg:     cfg,
	}
}

// configure swaps the limiter settings, preserving existing bucket levels.
func (rl *rateLimiter) configure(cfg config.RouterRateLimit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cfg = cfg
	for intent, bucket := range rl.buckets {
		rps, burst := rl.limitsForLocked(intent)
		bucket.configure(rps, burst)
	}
}

func (rl *rateLimiter) limitsForLocked(intent string) (rps, burst int) {
	rps = rl.cfg.RequestsPerSecond
	if per, ok := rl.cfg.PerIntent[intent]; ok {
		rps = per
	}
	burst = rl.cfg.Burst
	if burst <= 0 {
		burst = rps
	}
	return rps, burst
}

// allow consumes one token for the intent. A disabled limiter always admits.
func (rl *rateLimiter) allow(intent string) bool {
	rl.mu.RLock()
	enabled := rl.cfg.Enabled
	bucket, exists := rl.buckets[intent]
	rl.mu.RUnlock()

	if !enabled {
		return true
	}
	if !exists {
		rl.mu.Lock()
		bucket, exists = rl.buckets[intent]
		if !exists {
			rps, burst := rl.limitsForLocked(intent)
			bucket = newTokenBucket(rps, burst)
			rl.buckets[intent] = bucket
		}
		rl.mu.Unlock()
	}
	return bucket.take()
}

// tokenBucket implements a token bucket algorithm with lazy refill.
type tokenBucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(rps, burst int) *tokenBucket {
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = rps
	}
	return &tokenBucket{
		rate:       float64(rps),
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) configure(rps, burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if rps <= 0 {
		rps = 100
	}
	if burst <= 0 {
		burst = rps
	}
	tb.rate = float64(rps)
	tb.capacity = float64(burst)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastRefill).Seconds() * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
