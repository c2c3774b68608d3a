package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gin-gonic/gin"

	"github.com/mirrorops/gitlab-exporter/internal/models"
)

// stubStore is an in-memory db.Store for handler tests.
type stubStore struct {
	reports []*models.ExportReport
	err     error
}

func (s *stubStore) SaveReport(ctx context.Context, report *models.ExportReport) error {
	s.reports = append(s.reports, report)
	return s.err
}

func (s *stubStore) ListReports(ctx context.Context, instance string, limit int) ([]*models.ExportReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.ExportReport
	for _, r := range s.reports {
		if instance == "" || r.Instance == instance {
			out = append(out, r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

func setupTestRouter(t *testing.T, registry *Registry, store *stubStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	// A typed nil pointer must not reach the db.Store interface value.
	if store == nil {
		return SetupRouter(NewHandler(registry, nil, logger))
	}
	return SetupRouter(NewHandler(registry, store, logger))
}

func testRegistry() *Registry {
	registry := NewRegistry()
	registry.Register("gitlab-a", "run-a", "/exports/a", func() models.ReportStats {
		return models.ReportStats{ProjectsExported: 7}
	})
	registry.Register("gitlab-b", "run-b", "/exports/b", func() models.ReportStats {
		return models.ReportStats{ProjectsFailed: 1}
	})
	registry.SetState("gitlab-b", RunStateCompleted)
	return registry
}

func TestHandler_GetHealth(t *testing.T) {
	router := setupTestRouter(t, NewRegistry(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestHandler_ListExports(t *testing.T) {
	router := setupTestRouter(t, testRegistry(), nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/exports", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var statuses []ExportStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	// Registration order is preserved.
	assert.Equal(t, "gitlab-a", statuses[0].Instance)
	assert.Equal(t, RunStateRunning, statuses[0].State)
	assert.Equal(t, 7, statuses[0].Statistics.ProjectsExported)
	assert.Equal(t, "gitlab-b", statuses[1].Instance)
	assert.Equal(t, RunStateCompleted, statuses[1].State)
}

func TestHandler_GetExport(t *testing.T) {
	router := setupTestRouter(t, testRegistry(), nil)

	t.Run("known instance", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports/gitlab-a", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var status ExportStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		assert.Equal(t, "run-a", status.RunID)
		assert.Equal(t, "/exports/a", status.RunDir)
	})

	t.Run("unknown instance", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports/nope", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_GetExportHistory(t *testing.T) {
	t.Run("store not configured", func(t *testing.T) {
		router := setupTestRouter(t, testRegistry(), nil)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports/gitlab-a/history", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("returns persisted reports", func(t *testing.T) {
		store := &stubStore{reports: []*models.ExportReport{
			{RunID: "r1", Instance: "gitlab-a"},
			{RunID: "r2", Instance: "gitlab-b"},
			{RunID: "r3", Instance: "gitlab-a"},
		}}
		router := setupTestRouter(t, testRegistry(), store)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports/gitlab-a/history", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var reports []*models.ExportReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reports))
		require.Len(t, reports, 2)
		assert.Equal(t, "r1", reports[0].RunID)
		assert.Equal(t, "r3", reports[1].RunID)
	})

	t.Run("honors the limit parameter", func(t *testing.T) {
		store := &stubStore{reports: []*models.ExportReport{
			{RunID: "r1", Instance: "gitlab-a"},
			{RunID: "r2", Instance: "gitlab-a"},
		}}
		router := setupTestRouter(t, testRegistry(), store)

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/exports/gitlab-a/history?limit=1", nil)
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var reports []*models.ExportReport
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reports))
		assert.Len(t, reports, 1)
	})

	t.Run("rejects an invalid limit", func(t *testing.T) {
		router := setupTestRouter(t, testRegistry(), &stubStore{})

		for _, limit := range []string{"abc", "0", "-3"} {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/api/v1/exports/gitlab-a/history?limit="+limit, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
		}
	})
}

func TestRegistry_ReRegisterKeepsOrder(t *testing.T) {
	registry := testRegistry()
	registry.Register("gitlab-a", "run-a2", "/exports/a2", func() models.ReportStats {
		return models.ReportStats{}
	})

	all := registry.All()
	require.Len(t, all, 2)
	assert.Equal(t, "gitlab-a", all[0].Instance)
	assert.Equal(t, "run-a2", all[0].RunID)
	assert.Equal(t, RunStateRunning, all[0].State)
}
