// Package middleware holds the HTTP middleware for the widget-facing API:
// per-IP rate limiting, widget signature verification, request logging,
// and CORS.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter throttles callers by IP with a token bucket per visitor. It
// sits in front of the per-clinic usage quotas and caps a single origin,
// not a clinic.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	perSec   float64
	burst    float64
	now      func() time.Time
}

type visitor struct {
	tokens float64
	seen   time.Time
}

const visitorTTL = 10 * time.Minute

// NewRateLimiter allows perSec requests per second per IP, with bursts up
// to burst. A background sweep drops visitors idle longer than ten minutes.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		perSec:   perSec,
		burst:    float64(burst),
		now:      time.Now,
	}
	go func() {
		for range time.Tick(5 * time.Minute) {
			rl.sweep()
		}
	}()
	return rl
}

// Allow reports whether one more request from ip fits the limit, and spends
// a token when it does.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[ip]
	if v == nil {
		rl.visitors[ip] = &visitor{tokens: rl.burst - 1, seen: now}
		return rl.burst >= 1
	}

	v.tokens = min(rl.burst, v.tokens+now.Sub(v.seen).Seconds()*rl.perSec)
	v.seen = now
	if v.tokens < 1 {
		return false
	}
	v.tokens--
	return true
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-visitorTTL)
	for ip, v := range rl.visitors {
		if v.seen.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// RateLimit rejects requests over the limit with 429 and a Retry-After
// hint, using the JSON error shape the widget already understands.
func RateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(perSec, burst)
	retryAfter := strconv.Itoa(int(1/perSec) + 1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", retryAfter)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the address resolved by chi's RealIP middleware and
// falls back to the peer address without its port.
func clientIP(r *http.Request) string {
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
