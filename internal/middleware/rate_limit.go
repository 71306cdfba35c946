package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserLimiter keeps one token bucket per user id.
type UserLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	limiters map[string]*userBucket
	swept    time.Time
	now      func() time.Time
}

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows perMinute events per user with the given burst.
func NewUserLimiter(perMinute float64, burst int) *UserLimiter {
	return &UserLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[string]*userBucket),
		now:      time.Now,
	}
}

func (l *UserLimiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.idle {
		l.sweep(now)
	}
	b, ok := l.limiters[userID]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than l.idle. Allow runs it at most once
// per idle period.
func (l *UserLimiter) sweep(now time.Time) {
	for id, b := range l.limiters {
		if now.Sub(b.lastSeen) > l.idle {
			delete(l.limiters, id)
		}
	}
	l.swept = now
}

// RateLimit rejects requests from users over their budget. It must run after
// RequireIdentity.
func RateLimit(l *UserLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromCtx(r.Context())
			if userID == "" {
				http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			if !l.Allow(userID) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, `{"success":false,"error":"Too many requests, please slow down"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
