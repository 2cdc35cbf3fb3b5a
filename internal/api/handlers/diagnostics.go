package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/services"
)

// DiagnosticsHandler serves stored run artifacts
type DiagnosticsHandler struct {
	store  services.ArtifactStore
	logger *logrus.Logger
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(store services.ArtifactStore, logger *logrus.Logger) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		store:  store,
		logger: logger,
	}
}

// GetArtifact returns a diagnostic artifact with its stored content type
// @Summary Get a diagnostic artifact
// @Description Download a screenshot or JSON dump stored by a refresh run
// @Tags Diagnostics
// @Produce png
// @Produce json
// @Security ApiKeyAuth
// @Param key path string true "Artifact key" example(home-blocked-screenshot)
// @Success 200 {file} binary
// @Failure 404 {object} models.ErrorResponse
// @Router /diagnostics/{key} [get]
func (h *DiagnosticsHandler) GetArtifact(c *gin.Context) {
	key := c.Param("key")

	// Run records have their own endpoint
	if strings.Contains(key, ":") {
		h.notFound(c)
		return
	}

	artifact, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, services.ErrArtifactNotFound) {
		h.notFound(c)
		return
	}
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"key":        key,
			"error":      err.Error(),
		}).Error("Failed to read artifact")

		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:     "Internal Server Error",
			Message:   err.Error(),
			Code:      "INTERNAL_ERROR",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}

	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("X-Stored-At", artifact.StoredAt.UTC().Format(time.RFC3339))
	c.Data(http.StatusOK, contentType, artifact.Data)
}

func (h *DiagnosticsHandler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error:     "Artifact not found",
		Message:   "No diagnostic artifact is stored under this key",
		Code:      "ARTIFACT_NOT_FOUND",
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}
