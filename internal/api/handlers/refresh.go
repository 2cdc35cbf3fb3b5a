package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/services"
)

// RefreshHandler handles refresh run requests
type RefreshHandler struct {
	refreshService services.RefreshServiceInterface
	logger         *logrus.Logger
}

// NewRefreshHandler creates a new refresh handler
func NewRefreshHandler(refreshService services.RefreshServiceInterface, logger *logrus.Logger) *RefreshHandler {
	return &RefreshHandler{
		refreshService: refreshService,
		logger:         logger,
	}
}

// StartRefresh handles a refresh trigger
// @Summary Start a cookie refresh
// @Description Start a refresh run in the background. The body is optional; omitted fields fall back to the configured cookies, webhook and proxy.
// @Tags Refresh
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body models.RefreshRequest false "Run overrides"
// @Success 202 {object} models.RefreshAccepted
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /refresh [post]
func (h *RefreshHandler) StartRefresh(c *gin.Context) {
	requestID := c.GetString("request_id")

	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Warn("Invalid refresh request body")

		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:     "Invalid request body",
			Message:   err.Error(),
			Code:      "INVALID_REQUEST",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}

	runID, err := h.refreshService.Start(services.TriggerAPI, req)
	if errors.Is(err, services.ErrRunInProgress) {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:     "Refresh already running",
			Message:   "A refresh run is already in progress: " + h.refreshService.Running(),
			Code:      "RUN_IN_PROGRESS",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"run_id":     runID,
	}).Info("Refresh run started")

	c.JSON(http.StatusAccepted, models.RefreshAccepted{
		RunID:     runID,
		Status:    models.RunStatusRunning,
		Timestamp: time.Now(),
	})
}

// GetRun handles run status lookups
// @Summary Get a refresh run
// @Description Get the status and outcome of a refresh run
// @Tags Refresh
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Run ID"
// @Success 200 {object} models.RunRecord
// @Failure 404 {object} models.ErrorResponse
// @Router /refresh/{id} [get]
func (h *RefreshHandler) GetRun(c *gin.Context) {
	record, err := h.refreshService.Status(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:     "Run not found",
			Message:   "No refresh run with this ID",
			Code:      "RUN_NOT_FOUND",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// GetLatestCookies returns the payload of the last successful run
// @Summary Get the latest cookies
// @Description Get the payload delivered by the last successful refresh
// @Tags Refresh
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} models.WebhookPayload
// @Failure 404 {object} models.ErrorResponse
// @Router /cookies/latest [get]
func (h *RefreshHandler) GetLatestCookies(c *gin.Context) {
	payload, err := h.refreshService.LatestCookies(c.Request.Context())
	if errors.Is(err, services.ErrArtifactNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:     "No cookies yet",
			Message:   "No refresh has succeeded yet",
			Code:      "NO_COOKIES",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

func (h *RefreshHandler) internalError(c *gin.Context, err error) {
	h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString("request_id"),
		"path":       c.Request.URL.Path,
		"error":      err.Error(),
	}).Error("Request failed")

	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:     "Internal Server Error",
		Message:   err.Error(),
		Code:      "INTERNAL_ERROR",
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}
