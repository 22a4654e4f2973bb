package api

import (
	"net/http"

	"user-management-api/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves component health outside the request pipeline
type HealthHandler struct {
	checker *health.Checker
	version string
}

// NewHealthHandler creates a health handler reporting version
func NewHealthHandler(checker *health.Checker, version string) *HealthHandler {
	return &HealthHandler{checker: checker, version: version}
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	health.Report
	Version string `json:"version,omitempty"`
}

// Health runs every check; 503 when a critical component is down
func (h *HealthHandler) Health(c *gin.Context) {
	report := h.checker.Run(c.Request.Context())

	status := http.StatusOK
	if report.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{Report: report, Version: h.version})
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
}
