package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket per client IP
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket // per-IP buckets
	limit   rate.Limit
	burst   int
	idle    time.Duration // buckets unused this long are dropped
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New creates an IP-based limiter allowing max requests per window
func New(max int, per time.Duration) *Limiter {
	return &Limiter{
		buckets: map[string]*bucket{},
		limit:   rate.Every(per / time.Duration(max)),
		burst:   max,
		idle:    per * 2,
		now:     time.Now,
	}
}

// Allow reports whether a request from key may proceed
func (r *Limiter) Allow(key string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.buckets[key]
	if b == nil {
		r.sweepLocked(now)
		b = &bucket{lim: rate.NewLimiter(r.limit, r.burst)}
		r.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweepLocked forgets buckets that have been idle for a while
func (r *Limiter) sweepLocked(now time.Time) {
	for k, b := range r.buckets {
		if now.Sub(b.seen) > r.idle {
			delete(r.buckets, k)
		}
	}
}

// Middleware enforces the rate limit before calling the next handler
func (r *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ip, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			ip = req.RemoteAddr
		}
		if !r.Allow(ip) {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}
