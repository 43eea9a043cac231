package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
	)
	router := NewRouter(WithHealthHandlers(handlers))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.4.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("unexpected uptime %v", body["uptime"])
	}
}

func TestReadyzStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		repo   *stubHealthRepository
		status int
	}{
		{"ok", &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK}}, http.StatusOK},
		{"degraded", &stubHealthRepository{report: domain.SystemHealthReport{
			Status: domain.HealthStatusDegraded,
			Checks: map[string]domain.DependencyHealth{"redis": {Status: domain.HealthStatusDegraded, Detail: "down"}},
		}}, http.StatusOK},
		{"error", &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusError}}, http.StatusServiceUnavailable},
		{"collect failure", &stubHealthRepository{err: errors.New("boom")}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthRepository(tc.repo))))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
