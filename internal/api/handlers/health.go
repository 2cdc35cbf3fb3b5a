package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

// Version is reported by the health endpoints
var Version = "1.0.0"

// HealthChecker reports per-service health
type HealthChecker interface {
	Health() map[string]interface{}
}

// HealthHandler handles health check requests
type HealthHandler struct {
	services  HealthChecker
	logger    *logrus.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(services HealthChecker, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		services:  services,
		logger:    logger,
		startTime: time.Now(),
	}
}

// GetHealth handles general health check
// @Summary Health check
// @Description Get the health status of the service and its dependencies
// @Tags Health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Failure 503 {object} models.HealthResponse
// @Router /health [get]
func (h *HealthHandler) GetHealth(c *gin.Context) {
	servicesHealth := h.services.Health()

	// Determine overall status
	status := "healthy"
	for _, serviceHealth := range servicesHealth {
		switch serviceStatus(serviceHealth) {
		case "unhealthy":
			status = "unhealthy"
		case "degraded":
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	response := models.HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Version:   Version,
		Services:  make(map[string]models.ServiceInfo),
		Uptime:    time.Since(h.startTime).String(),
	}

	for serviceName, serviceHealth := range servicesHealth {
		info := models.ServiceInfo{
			Status:    serviceStatus(serviceHealth),
			LastCheck: time.Now(),
		}
		if healthMap, ok := serviceHealth.(map[string]interface{}); ok {
			if errorMsg, ok := healthMap["error"].(string); ok {
				info.Error = errorMsg
			}
		}
		response.Services[serviceName] = info
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, response)
}

// GetReadiness handles readiness probe
// @Summary Readiness check
// @Description Check if the service can accept refresh requests
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/ready [get]
func (h *HealthHandler) GetReadiness(c *gin.Context) {
	servicesHealth := h.services.Health()

	ready := true
	issues := make([]string, 0)

	for _, name := range []string{"browser", "refresh"} {
		if serviceStatus(servicesHealth[name]) == "unhealthy" {
			ready = false
			issues = append(issues, name+" service is unhealthy")
		}
	}

	response := map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  servicesHealth,
	}

	if len(issues) > 0 {
		response["issues"] = issues
	}

	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, response)
}

// GetLiveness handles liveness probe
// @Summary Liveness check
// @Description Check if the service is alive and responding
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/live [get]
func (h *HealthHandler) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"version":   Version,
	})
}

// serviceStatus reads the status of a health map. Maps without a status,
// like the diagnostics store's per-backend report, count as healthy unless
// a backend is unhealthy.
func serviceStatus(health interface{}) string {
	healthMap, ok := health.(map[string]interface{})
	if !ok {
		return "healthy"
	}
	if status, ok := healthMap["status"].(string); ok {
		return status
	}
	for _, nested := range healthMap {
		if serviceStatus(nested) == "unhealthy" {
			return "degraded"
		}
	}
	return "healthy"
}
