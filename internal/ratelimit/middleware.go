package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the rate-limit key and per-minute budget from a
// request. Return an empty key or a nil limit to skip limiting (unknown
// caller, unlimited key).
type KeyFunc func(r *http.Request) (key string, limit *int)

// Middleware enforces per-key request budgets, setting X-RateLimit
// headers on every limited response and answering 429 with Retry-After
// when the budget is spent. A nil limiter passes everything through.
func Middleware(limiter Limiter, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key, limit := keyFunc(r)
			if key == "" || limit == nil {
				next.ServeHTTP(w, r)
				return
			}

			result := limiter.Allow(r.Context(), key, *limit)
			for k, v := range result.FormatHeaders() {
				w.Header().Set(k, v)
			}

			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.ResetInSeconds()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":     "rate_limited",
					"message":   "too many requests",
					"timestamp": time.Now().UTC(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
