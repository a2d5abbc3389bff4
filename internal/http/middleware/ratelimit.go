package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TriggerLimiter throttles sync triggers per caller so a stuck dashboard or
// script cannot flood the upstream proxy.
type TriggerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTriggerLimiter allows perMinute triggers per key with the given burst.
func NewTriggerLimiter(perMinute float64, burst int) *TriggerLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &TriggerLimiter{
		limiters: make(map[string]*visitor),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may trigger now.
func (l *TriggerLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	v, ok := l.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = v
	}
	v.lastSeen = now
	l.evictLocked(now)
	return v.limiter.AllowN(now, 1)
}

// evictLocked drops callers idle for ten minutes.
func (l *TriggerLimiter) evictLocked(now time.Time) {
	if len(l.limiters) < 256 {
		return
	}
	cutoff := now.Add(-10 * time.Minute)
	for key, v := range l.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// RateLimit rejects triggers over the limit with 429. Callers are keyed by
// operator when authenticated, otherwise by client address.
func RateLimit(limiter *TriggerLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ActorFromContext(r.Context())
			if key == "" {
				key = r.RemoteAddr
				// X-Real-Ip is set by chi's RealIP middleware.
				if xri := r.Header.Get("X-Real-Ip"); xri != "" {
					key = xri
				}
			}
			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
