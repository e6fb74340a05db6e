package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTTL = 5 * time.Minute

// RateLimit caps request throughput for one route group.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies per-client token buckets keyed by route group.
type RateLimiter struct {
	limits map[string]RateLimit
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter builds a limiter for the supplied route group table. Route
// groups absent from the table pass through unlimited.
func NewRateLimiter(limits map[string]RateLimit) *RateLimiter {
	rl := &RateLimiter{
		limits:   limits,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	go rl.janitor()
	return rl
}

// Middleware enforces the limit registered under key for each client IP.
func (r *RateLimiter) Middleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			limit, ok := r.limits[key]
			if !ok {
				next.ServeHTTP(w, req)
				return
			}
			if !r.allow(key+"|"+clientID(req), limit) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) allow(id string, cfg RateLimit) bool {
	r.mu.Lock()
	entry, ok := r.visitors[id]
	if !ok {
		perSecond := cfg.RequestsPerMinute / 60.0
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = r.now()
	limiter := entry.limiter
	r.mu.Unlock()
	return limiter.Allow()
}

func (r *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := r.now().Add(-visitorIdleTTL)
		r.mu.Lock()
		for id, entry := range r.visitors {
			if entry.lastSeen.Before(cutoff) {
				delete(r.visitors, id)
			}
		}
		r.mu.Unlock()
	}
}

func clientID(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if raw := r.Header.Get("X-Forwarded-For"); raw != "" {
		first := raw
		if comma := strings.IndexByte(raw, ','); comma >= 0 {
			first = raw[:comma]
		}
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
