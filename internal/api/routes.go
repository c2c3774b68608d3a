package api

import "github.com/gin-gonic/gin"

// SetupRouter configures the status API routes.
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.GetHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/exports", h.ListExports)
		v1.GET("/exports/:instance", h.GetExport)
		v1.GET("/exports/:instance/history", h.GetExportHistory)
	}

	return r
}
