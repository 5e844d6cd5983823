package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/gosuda/timeproof/internal/metrics"
)

const (
	limiterSweep = 10 * time.Minute
	limiterIdle  = 30 * time.Minute
)

// Limit is a token bucket: Rate requests per second sustained, Burst at once.
type Limit struct {
	Rate  float64
	Burst int
}

// retryAfter is the whole seconds until one token refills.
func (l Limit) retryAfter() int {
	if l.Rate <= 0 {
		return int(limiterSweep.Seconds())
	}
	return max(1, int(math.Ceil(1/l.Rate)))
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// bucketSet holds one bucket per key. Buckets idle for limiterIdle are
// dropped until ctx ends.
type bucketSet[K comparable] struct {
	limit Limit

	mu      sync.Mutex
	buckets map[K]*bucket
}

func newBucketSet[K comparable](ctx context.Context, l Limit) *bucketSet[K] {
	s := &bucketSet[K]{limit: l, buckets: make(map[K]*bucket)}
	go s.sweepLoop(ctx)
	return s
}

func (s *bucketSet[K]) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now().Add(-limiterIdle))
		case <-ctx.Done():
			return
		}
	}
}

func (s *bucketSet[K]) sweep(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(s.buckets, k)
		}
	}
}

func (s *bucketSet[K]) allow(key K) bool {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(s.limit.Rate), s.limit.Burst)}
		s.buckets[key] = b
	}
	b.lastSeen = time.Now()
	s.mu.Unlock()
	return b.limiter.Allow()
}

// RateLimit caps every API request per company. Requests without a company
// in context pass through; RequireCompany rejects them later.
func RateLimit(ctx context.Context, l Limit) func(http.Handler) http.Handler {
	set := newBucketSet[uuid.UUID](ctx, l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if companyID, ok := CompanyIDFromContext(r.Context()); ok && !set.allow(companyID) {
				reject(w, "api", l, "request rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitProviderCalls gives each company a separate, tighter budget for
// requests that reach the trust service provider, as decided by isCall. It
// keeps one tenant's submissions and retries from draining the provider
// quota the scheduler shares with everyone else.
func RateLimitProviderCalls(ctx context.Context, l Limit, isCall func(*http.Request) bool) func(http.Handler) http.Handler {
	set := newBucketSet[uuid.UUID](ctx, l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isCall(r) {
				next.ServeHTTP(w, r)
				return
			}
			if companyID, ok := CompanyIDFromContext(r.Context()); ok && !set.allow(companyID) {
				reject(w, "provider", l, "provider call rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP caps WebSocket handshakes per client address ahead of
// authentication. The port is ignored, so reconnects from new source ports
// share a bucket.
func RateLimitByIP(ctx context.Context, l Limit) func(http.Handler) http.Handler {
	set := newBucketSet[string](ctx, l)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(clientIP(r)) {
				reject(w, "ws", l, "connection rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func reject(w http.ResponseWriter, scope string, l Limit, detail string) {
	metrics.RateLimited(scope)
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprintf(w, `{"title":"Too Many Requests","status":429,"detail":%q}`, detail)
}
