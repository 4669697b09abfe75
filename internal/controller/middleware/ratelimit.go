package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter applies an independent token bucket to every key, such as a
// runner id polling for claims.
type KeyedLimiter struct {
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	limiters sync.Map // key -> *cachedLimiter
}

// NewKeyedLimiter allows perSecond requests per key with the given burst.
// perSecond <= 0 means unlimited. Idle limiters are replaced after ttl.
func NewKeyedLimiter(perSecond float64, burst int, ttl time.Duration) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KeyedLimiter{limit: rate.Limit(perSecond), burst: burst, ttl: ttl}
}

// Allow reports whether one more request for key may proceed now.
func (l *KeyedLimiter) Allow(key string) bool {
	// 0 means unlimited
	if l == nil || l.limit <= 0 {
		return true
	}
	return l.getOrCreateLimiter(key).Allow()
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (l *KeyedLimiter) getOrCreateLimiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		cached := limiter.(*cachedLimiter)
		if time.Now().Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(l.ttl),
	})
	return limiter
}
