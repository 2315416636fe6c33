package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/penshort/insights/internal/handler/dto"
	"github.com/penshort/insights/internal/insightcache"
	"github.com/penshort/insights/internal/middleware"
	"github.com/penshort/insights/internal/model"
)

const (
	// defaultPeriod is used when the request names none.
	defaultPeriod = model.Period30Days
	// pollAfter is the Retry-After hint sent while insights are computed.
	pollAfter = 5 * time.Second
)

// InsightsCache is the part of the cache manager the insights endpoints use.
type InsightsCache interface {
	GetCache(ctx context.Context, userID string, period model.Period) (*model.CacheEntry, error)
	GetOrCreateCache(ctx context.Context, userID string, period model.Period) (*model.CacheEntry, bool, error)
	InvalidateUserCache(ctx context.Context, userID string) (int64, error)
}

// InsightsHandler serves the polling surface of the insights cache.
type InsightsHandler struct {
	cache  InsightsCache
	logger *slog.Logger
	now    func() time.Time
}

// NewInsightsHandler creates a new InsightsHandler.
func NewInsightsHandler(cache InsightsCache, logger *slog.Logger) *InsightsHandler {
	return &InsightsHandler{
		cache:  cache,
		logger: logger.With("component", "handler.insights"),
		now:    time.Now,
	}
}

// Get handles GET /v1/users/{userID}/insights.
//
// Completed entries are returned with 200. Pending and calculating entries are
// returned with 202 and a Retry-After hint. A recorded failure is returned
// with 200 and status "error" until it expires, after which the next poll
// schedules a new run. ?refresh=true drops the user's entries first.
func (h *InsightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "User ID is required")
		return
	}

	period, err := parsePeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "period must be one of 7d, 30d, 90d, yearly")
		return
	}

	ctx := r.Context()

	if middleware.IsForcedRefresh(r) {
		removed, err := h.cache.InvalidateUserCache(ctx, userID)
		if err != nil {
			h.handleCacheError(w, err)
			return
		}
		h.logger.Info("insights_refresh_forced", "user_id", userID, "period", period, "removed", removed)
	} else {
		existing, err := h.cache.GetCache(ctx, userID, period)
		if err != nil {
			h.handleCacheError(w, err)
			return
		}
		if existing != nil && existing.Status == model.CacheStatusError && !existing.IsExpired(h.now()) {
			writeJSON(w, http.StatusOK, dto.ToInsightsResponse(existing))
			return
		}
	}

	entry, created, err := h.cache.GetOrCreateCache(ctx, userID, period)
	if err != nil {
		h.handleCacheError(w, err)
		return
	}
	if created {
		h.logger.Info("insights_requested", "user_id", userID, "period", period)
	}

	if entry.Status == model.CacheStatusCompleted {
		writeJSON(w, http.StatusOK, dto.ToInsightsResponse(entry))
		return
	}

	w.Header().Set("Retry-After", strconv.Itoa(int(pollAfter.Seconds())))
	writeJSON(w, http.StatusAccepted, dto.ToInsightsResponse(entry))
}

// Invalidate handles DELETE /v1/users/{userID}/insights.
func (h *InsightsHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	removed, err := h.cache.InvalidateUserCache(r.Context(), userID)
	if err != nil {
		h.handleCacheError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.InvalidateResponse{Removed: removed})
}

func parsePeriod(r *http.Request) (model.Period, error) {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return defaultPeriod, nil
	}
	return model.ParsePeriod(raw)
}

// handleCacheError maps cache manager errors to HTTP responses.
func (h *InsightsHandler) handleCacheError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, insightcache.ErrEmptyUserID):
		writeError(w, http.StatusBadRequest, "MISSING_USER_ID", "User ID is required")
	case errors.Is(err, model.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "INVALID_PERIOD", "period must be one of 7d, 30d, 90d, yearly")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}
