package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	"github.com/vaidashi/courier-lifecycle/pkg/ratelimit"
)

// KeyFunc identifies the caller of a request, e.g. the authenticated user id
type KeyFunc func(r *http.Request) string

// RateLimiterMiddleware applies a token bucket per caller and route
type RateLimiterMiddleware struct {
	defaultLimiter *ratelimit.KeyedLimiter
	routeLimiters  map[string]*ratelimit.KeyedLimiter
	callerKey      KeyFunc
	logger         logger.Logger
}

// RateLimiterConfig configures the rate limiter middleware. Route keys are
// "METHOD template", e.g. "POST /api/v1/bookings".
type RateLimiterConfig struct {
	Default   ratelimit.Limit
	Overrides map[string]ratelimit.Limit
	IdleTTL   time.Duration
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg RateLimiterConfig, callerKey KeyFunc, logger logger.Logger) *RateLimiterMiddleware {
	m := &RateLimiterMiddleware{
		defaultLimiter: ratelimit.NewKeyedLimiter(cfg.Default, cfg.IdleTTL),
		routeLimiters:  make(map[string]*ratelimit.KeyedLimiter, len(cfg.Overrides)),
		callerKey:      callerKey,
		logger:         logger,
	}

	for route, limit := range cfg.Overrides {
		m.routeLimiters[route] = ratelimit.NewKeyedLimiter(limit, cfg.IdleTTL)
	}

	return m
}

// Middleware returns a middleware function
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeKey(r)
		caller := m.callerKey(r)

		limiter, ok := m.routeLimiters[route]
		if !ok {
			limiter = m.defaultLimiter
		}

		allowed, wait := limiter.Allow(caller + "|" + route)

		if !allowed {
			m.logger.Warn("Rate limit exceeded", "route", route, "caller", caller, "retryAfter", wait)

			w.Header().Set("Retry-After", retryAfterSeconds(wait))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": false,
				"error":   "Too many requests. Please try again later.",
				"code":    "RATE_LIMITED",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// routeKey uses the mux route template so path parameters share one bucket
func routeKey(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return r.Method + " " + tmpl
		}
	}
	return r.Method + " " + r.URL.Path
}

func retryAfterSeconds(wait time.Duration) string {
	seconds := int64(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}

// ClientIP extracts the client IP from the request, for callers without an identity
func ClientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if i := strings.LastIndex(ip, ":"); i != -1 {
		ip = ip[:i]
	}
	return ip
}

// Stop stops the rate limiters
func (m *RateLimiterMiddleware) Stop() {
	m.defaultLimiter.Stop()
	for _, l := range m.routeLimiters {
		l.Stop()
	}
}
