package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mirrorops/gitlab-exporter/internal/db"
)

// Handler serves the live export status and, when a run-history store
// is configured, past reports.
type Handler struct {
	registry *Registry
	store    db.Store
	logger   *logrus.Logger
}

// NewHandler creates a status handler. store may be nil.
func NewHandler(registry *Registry, store db.Store, logger *logrus.Logger) *Handler {
	return &Handler{
		registry: registry,
		store:    store,
		logger:   logger,
	}
}

// GetHealth reports process liveness.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListExports returns the status of every registered instance run.
func (h *Handler) ListExports(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.All())
}

// GetExport returns the status of one instance run.
func (h *Handler) GetExport(c *gin.Context) {
	instance := c.Param("instance")
	status, ok := h.registry.Status(instance)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance: " + instance})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetExportHistory returns persisted reports for one instance, newest
// first. Requires the run-history store.
func (h *Handler) GetExportHistory(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history store not configured"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
			return
		}
		limit = parsed
	}

	reports, err := h.store.ListReports(c.Request.Context(), c.Param("instance"), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list export reports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list export reports"})
		return
	}
	c.JSON(http.StatusOK, reports)
}
