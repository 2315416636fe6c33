package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/penshort/insights/internal/cache"
)

// RefreshLimiter consumes forced-refresh tokens. *cache.Cache implements it.
type RefreshLimiter interface {
	CheckRefreshLimit(ctx context.Context, userID string, ratePerHour, burst int) *cache.RateLimitResult
}

// RefreshLimitConfig holds configuration for forced-refresh throttling.
type RefreshLimitConfig struct {
	Logger      *slog.Logger
	Limiter     RefreshLimiter
	RatePerHour int
	Burst       int
	// UserParam is the chi URL parameter holding the user ID.
	UserParam string
}

// RefreshLimit throttles requests that ask for a forced refresh
// (?refresh=true) per user. Other requests pass through untouched.
func RefreshLimit(cfg RefreshLimitConfig) func(http.Handler) http.Handler {
	param := cfg.UserParam
	if param == "" {
		param = "userID"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limiter == nil || !IsForcedRefresh(r) {
				next.ServeHTTP(w, r)
				return
			}

			userID := chi.URLParam(r, param)
			result := cfg.Limiter.CheckRefreshLimit(r.Context(), userID, cfg.RatePerHour, cfg.Burst)
			if result.Degraded {
				cfg.Logger.Warn("refresh limit check degraded, allowing request",
					slog.String("user_id", userID),
					slog.String("request_id", GetRequestID(r.Context())),
				)
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "refresh"),
					slog.String("user_id", userID),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many refresh requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IsForcedRefresh reports whether the request asks to bypass the cache.
func IsForcedRefresh(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return err == nil && v
}
