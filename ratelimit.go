package socialauth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates login attempts per key.
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedLimiter keeps one token bucket per key and forgets keys idle for
// longer than IdleTTL.
type KeyedLimiter struct {
	Limit   rate.Limit
	Burst   int
	IdleTTL time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows perMinute attempts per key with the given burst.
func NewKeyedLimiter(perMinute float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		Limit:   rate.Limit(perMinute / 60),
		Burst:   burst,
		IdleTTL: 10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > l.IdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.IdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.Limit, l.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
