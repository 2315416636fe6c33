package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/penshort/insights/internal/auth"
	"github.com/penshort/insights/internal/handler/dto"
	"github.com/penshort/insights/internal/metrics"
	"github.com/penshort/insights/internal/middleware"
)

func newTestRouter(t *testing.T, tokenHash string) http.Handler {
	t.Helper()

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(reg)
	_, manager := newOpsManager(t)
	recorder.IncJob(metrics.OutcomeCompleted)

	return NewRouter(RouterConfig{
		Logger:   discardLogger(),
		Service:  New("v1"),
		Health:   NewHealthHandler(&mockHealthChecker{}, &mockHealthChecker{}),
		Metrics:  NewMetricsHandler(reg),
		Insights: NewInsightsHandler(manager, discardLogger()),
		Ops:      NewOpsHandler(manager, stubRunner{}, discardLogger()),
		Admin: middleware.AdminConfig{
			Logger:      discardLogger(),
			TokenHash:   tokenHash,
			MinDuration: time.Millisecond,
		},
		RefreshLimit: middleware.RefreshLimitConfig{Logger: discardLogger()},
	})
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := newTestRouter(t, "")

	tests := []struct {
		method   string
		target   string
		wantCode int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/v1/users/user-1/insights", http.StatusAccepted},
		{http.MethodDelete, "/v1/users/user-1/insights", http.StatusOK},
		{http.MethodPost, "/v1/users/user-1/insights", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
		{http.MethodGet, "/v1/ops/insights/status", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.target, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("response missing request ID header")
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	r := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `insights_jobs_total{outcome="completed"} 1`) {
		t.Errorf("metrics output missing job counter:\n%s", body)
	}
}

func TestRouter_OpsRequireToken(t *testing.T) {
	generated, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	r := newTestRouter(t, generated.Hash)

	tests := []struct {
		name     string
		method   string
		target   string
		token    string
		wantCode int
	}{
		{"status without token", http.MethodGet, "/v1/ops/insights/status", "", http.StatusUnauthorized},
		{"status with token", http.MethodGet, "/v1/ops/insights/status", generated.Plaintext, http.StatusOK},
		{"cleanup with token", http.MethodPost, "/v1/ops/insights/cleanup", generated.Plaintext, http.StatusOK},
		{"run with token", http.MethodPost, "/v1/ops/insights/run", generated.Plaintext, http.StatusOK},
		{"run with wrong token", http.MethodPost, "/v1/ops/insights/run", "ins_ops_00000000000000000000000000000000", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusUnauthorized {
				var body dto.ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if body.Code != "UNAUTHORIZED" {
					t.Errorf("code = %s, want UNAUTHORIZED", body.Code)
				}
			}
		})
	}
}
