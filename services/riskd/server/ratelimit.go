package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fluxrisk/observability"
)

const visitorIdleTTL = 5 * time.Minute

// RateLimit bounds request throughput per client address.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles clients with a token bucket each. Idle buckets are
// evicted lazily.
type RateLimiter struct {
	limit     RateLimit
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter constructs a limiter. Non-positive settings fall back to one
// request per second with a burst of one.
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{limit: limit, visitors: make(map[string]*visitor), now: time.Now}
}

// Middleware rejects requests above the client's budget with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.allow(clientID(req)) {
			observability.ModuleMetrics().RecordThrottle(moduleName, "client_rate")
			writeProblem(w, http.StatusTooManyRequests, "rate_limit_exceeded", http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) allow(id string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if now.Sub(r.lastSweep) > visitorIdleTTL {
		for key, v := range r.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTTL {
				delete(r.visitors, key)
			}
		}
		r.lastSweep = now
	}
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := r.limit.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := r.limit.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// clientID relies on the RealIP middleware having rewritten RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
