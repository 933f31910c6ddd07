package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tpsparking/api/internal/http/respond"
	"github.com/tpsparking/api/internal/metrics"
)

const (
	bucketIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
)

// RateLimiter holds a token bucket per client key for one scope (login, public, user).
type RateLimiter struct {
	scope string
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows reqPerSec sustained requests per key with the given burst.
func NewRateLimiter(scope string, reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		scope:   scope,
		limit:   rate.Limit(reqPerSec),
		burst:   burst,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

// allow takes a token from key's bucket, creating it on first use.
func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if now.Sub(l.lastSweep) >= sweepInterval {
		for k, other := range l.buckets {
			if now.Sub(other.lastSeen) > bucketIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}
	return b.lim.AllowN(now, 1)
}

// retryAfter is the whole number of seconds until one token refills.
func (l *RateLimiter) retryAfter() string {
	if l.limit <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/float64(l.limit)))))
}

// Middleware throttles requests by keyOf; requests without a key pass through.
func (l *RateLimiter) Middleware(keyOf func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyOf(r)
			if key == "" || l.allow(key) {
				next.ServeHTTP(w, r)
				return
			}
			metrics.RequestsThrottledTotal.WithLabelValues(l.scope).Inc()
			w.Header().Set("Retry-After", l.retryAfter())
			respond.Error(w, http.StatusTooManyRequests, respond.CodeRateLimit, "Request was throttled.", nil)
		})
	}
}

// IPRateLimit keys on the client address. chi's RealIP runs first and has already
// replaced RemoteAddr with the forwarded client IP.
func IPRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return l.Middleware(clientIP)
}

// UserRateLimit keys on the authenticated subject.
func UserRateLimit(l *RateLimiter) func(http.Handler) http.Handler {
	return l.Middleware(func(r *http.Request) string {
		return GetSubject(r.Context())
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
