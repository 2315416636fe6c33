package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/penshort/insights/internal/auth"
)

// minAuthDuration is the minimum time spent on every admin auth decision.
const minAuthDuration = 200 * time.Millisecond

// AdminConfig holds configuration for the admin auth middleware.
type AdminConfig struct {
	Logger *slog.Logger
	// TokenHash is the Argon2id PHC hash of the operations token.
	// When empty the protected routes respond 404.
	TokenHash string
	// MinDuration overrides minAuthDuration; zero keeps the default.
	MinDuration time.Duration
}

// AdminAuth returns a middleware that admits requests carrying the
// operations token as "Authorization: Bearer <token>".
func AdminAuth(cfg AdminConfig) func(http.Handler) http.Handler {
	minDuration := cfg.MinDuration
	if minDuration <= 0 {
		minDuration = minAuthDuration
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.TokenHash == "" {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
				return
			}

			if !verifyAdmin(cfg, r, minDuration) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func verifyAdmin(cfg AdminConfig, r *http.Request, minDuration time.Duration) bool {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < minDuration {
			time.Sleep(minDuration - elapsed)
		}
	}()

	fail := func(reason string) bool {
		cfg.Logger.Warn("admin authentication failed",
			slog.String("reason", reason),
			slog.String("ip", r.RemoteAddr),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.String("request_id", GetRequestID(r.Context())),
		)
		return false
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return fail("missing_token")
	}
	if !auth.ValidTokenFormat(token) {
		return fail("invalid_format")
	}

	match, err := auth.VerifyToken(token, cfg.TokenHash)
	if err != nil {
		cfg.Logger.Error("admin token hash is invalid", slog.String("error", err.Error()))
		return false
	}
	if !match {
		return fail("invalid_token")
	}
	return true
}
