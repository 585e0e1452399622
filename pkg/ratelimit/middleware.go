package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brandnova/nova2fa/pkg/user"
)

// Config holds the throttle settings for the challenge endpoints. The
// account lockout counts wrong codes; this layer caps raw request volume
// so an attacker cannot hammer the verify and resend endpoints between
// lockouts.
type Config struct {
	// Capacity is the allowed burst per key.
	Capacity int
	// RefillRate is the sustained requests per second per key.
	RefillRate float64
	// BucketTTL is how long idle keys stay in memory.
	BucketTTL time.Duration
}

// DefaultConfig allows a burst of 10 and one request per 6 seconds per
// key, comfortably above legitimate retry behavior.
func DefaultConfig() Config {
	return Config{
		Capacity:   10,
		RefillRate: 10.0 / 60.0,
		BucketTTL:  time.Hour,
	}
}

// Throttle is per-user (or per-IP, for requests without an authenticated
// user) request throttling middleware.
type Throttle struct {
	limiter *Limiter
}

// NewThrottle creates throttling middleware from config.
func NewThrottle(cfg Config) *Throttle {
	return &Throttle{
		limiter: NewLimiter(cfg.Capacity, cfg.RefillRate, cfg.BucketTTL),
	}
}

// Handler rejects over-limit requests with 429 before they reach the
// verification flow.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := requestKey(r)
		if !t.limiter.Allow(key) {
			slog.Warn("Request throttled",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate_limit_exceeded", "message": "Too many requests. Please try again later."}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Reset restores capacity for a user, typically after a successful
// verification.
func (t *Throttle) Reset(userID string) {
	t.limiter.Reset("user:" + userID)
}

// requestKey identifies the requester: authenticated user ID when
// available, client IP otherwise.
func requestKey(r *http.Request) string {
	if u, ok := user.FromContext(r.Context()); ok {
		return "user:" + u.ID.String()
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
