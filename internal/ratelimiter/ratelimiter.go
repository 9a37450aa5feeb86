package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket wrapping golang.org/x/time/rate.
//
// A zero requestsPerSecond means unlimited. All methods are safe for
// concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing requestsPerSecond sustained with bursts of
// up to burst requests.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst))}
}

// Allow reports whether one request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Keyed keeps one RateLimiter per key, e.g. per bus peer. Keys are created
// on first use and dropped with Forget.
type Keyed struct {
	rps   uint
	burst uint

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewKeyed creates a per-key limiter. A zero requestsPerSecond disables
// limiting for every key.
func NewKeyed(requestsPerSecond, burst uint) *Keyed {
	return &Keyed{
		rps:      requestsPerSecond,
		burst:    burst,
		limiters: make(map[string]*RateLimiter),
	}
}

// Allow reports whether key may issue one more request now.
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.rps == 0 {
		return true
	}
	return k.get(key).Allow()
}

// Wait blocks until key may issue one more request.
func (k *Keyed) Wait(ctx context.Context, key string) error {
	if k == nil || k.rps == 0 {
		return nil
	}
	return k.get(key).Wait(ctx)
}

// Forget drops the limiter of key.
func (k *Keyed) Forget(key string) {
	if k == nil {
		return
	}
	k.mu.Lock()
	delete(k.limiters, key)
	k.mu.Unlock()
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *Keyed) get(key string) *RateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[key]
	if !ok {
		l = New(k.rps, k.burst)
		k.limiters[key] = l
	}
	return l
}
