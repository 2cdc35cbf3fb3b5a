package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

const maxResponseBody = 4096

// NotificationService posts run results to a webhook
type NotificationService struct {
	client  *http.Client
	timeout time.Duration
	logger  *logrus.Logger
}

// NewNotificationService creates a notification service
func NewNotificationService(timeout time.Duration, logger *logrus.Logger) *NotificationService {
	return &NotificationService{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Dispatch sends one JSON POST bounded by the service timeout. Any non-2xx
// response is returned as a *refresh.DeliveryError. There are no retries.
func (s *NotificationService) Dispatch(ctx context.Context, result models.RefreshResult, endpoint string) error {
	body, err := json.Marshal(result.Payload())
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &refresh.DeliveryError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "cookie-refresher/1.0")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return &refresh.DeliveryError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	fields := logrus.Fields{
		"status":      resp.StatusCode,
		"success":     result.Success,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if len(respBody) > 0 {
		fields["response"] = string(respBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.WithFields(fields).Warn("Webhook rejected payload")
		return &refresh.DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	s.logger.WithFields(fields).Info("Webhook accepted payload")
	return nil
}

// Health returns notification service health status
func (s *NotificationService) Health() map[string]interface{} {
	return map[string]interface{}{
		"status":  "healthy",
		"timeout": s.timeout.String(),
	}
}
