package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/penshort/insights/internal/handler/dto"
	"github.com/penshort/insights/internal/model"
	"github.com/penshort/insights/internal/orchestrator"
)

// OpsCache is the part of the cache manager the operations endpoints use.
type OpsCache interface {
	GetSystemStatus(ctx context.Context) (*model.SystemStatus, error)
	CleanExpiredCaches(ctx context.Context) (int64, error)
}

// BatchRunner runs one orchestrator cycle.
type BatchRunner interface {
	ProcessPending(ctx context.Context) (orchestrator.BatchResult, error)
}

// OpsHandler serves the operations endpoints.
type OpsHandler struct {
	cache  OpsCache
	runner BatchRunner
	logger *slog.Logger
}

// NewOpsHandler creates a new OpsHandler. runner may be nil, in which case
// on-demand runs are rejected.
func NewOpsHandler(cache OpsCache, runner BatchRunner, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		cache:  cache,
		runner: runner,
		logger: logger.With("component", "handler.ops"),
	}
}

// Status handles GET /v1/ops/insights/status.
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.cache.GetSystemStatus(r.Context())
	if err != nil {
		h.logger.Error("failed to get system status", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Cleanup handles POST /v1/ops/insights/cleanup.
func (h *OpsHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.CleanExpiredCaches(r.Context())
	if err != nil {
		h.logger.Error("failed to clean expired caches", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	h.logger.Info("ops_cleanup", "removed", removed)
	writeJSON(w, http.StatusOK, dto.CleanupResponse{Removed: removed})
}

// Run handles POST /v1/ops/insights/run.
func (h *OpsHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "RUNNER_DISABLED", "Orchestrator is not running in this process")
		return
	}

	result, err := h.runner.ProcessPending(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrBatchInProgress):
		writeError(w, http.StatusConflict, "BATCH_IN_PROGRESS", "A batch is already being processed")
		return
	case err != nil:
		h.logger.Error("on-demand batch failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		return
	}

	h.logger.Info("ops_run",
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	writeJSON(w, http.StatusOK, result)
}
