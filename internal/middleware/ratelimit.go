// File: internal/middleware/ratelimit.go
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/iyunix/internist-hub/internal/ratelimit"
)

// APIRateLimitMiddleware throttles the REST API. It runs behind the bearer
// auth middleware so each user gets their own budget; requests without a
// caller fall back to the client IP.
func APIRateLimitMiddleware(limiter *ratelimit.MemoryRateLimiter, logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiLimitKey(r)
			allowed, info := limiter.Allow(key)

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))

			if !allowed {
				logger.Info("api request throttled",
					"key", key,
					"path", r.URL.Path,
					"banned", info.Banned,
					"retry_after", info.RetryAfter.String(),
				)
				if info.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())+1))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func apiLimitKey(r *http.Request) string {
	if userID, ok := UserIDFromContext(r.Context()); ok {
		return "user:" + userID
	}
	return "ip:" + ratelimit.GetClientIP(r)
}
