package services

import (
	"context"

	"github.com/nexconsult/cookie-refresher/internal/models"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

// ArtifactStore defines the interface for diagnostic and run record storage
type ArtifactStore interface {
	// Put stores data under key
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the artifact stored under key or ErrArtifactNotFound
	Get(ctx context.Context, key string) (*Artifact, error)

	// Delete removes the artifact stored under key
	Delete(ctx context.Context, key string) error

	// Health returns store health status
	Health() map[string]interface{}
}

// BrowserServiceInterface defines the interface for browser service
type BrowserServiceInterface interface {
	refresh.Launcher

	// GetStats returns browser usage statistics
	GetStats() map[string]interface{}

	// Health returns browser service health status
	Health() map[string]interface{}
}

// NotificationServiceInterface defines the interface for webhook delivery
type NotificationServiceInterface interface {
	refresh.Dispatcher

	// Health returns notification service health status
	Health() map[string]interface{}
}

// RefreshServiceInterface defines the interface for running refreshes
type RefreshServiceInterface interface {
	// Start launches a run in the background and returns its ID
	Start(trigger string, req models.RefreshRequest) (string, error)

	// Run performs a run and waits for it
	Run(ctx context.Context, trigger string, req models.RefreshRequest) (*models.RunRecord, models.RefreshResult, error)

	// Status returns the record of a run or ErrRunNotFound
	Status(ctx context.Context, runID string) (*models.RunRecord, error)

	// LatestCookies returns the last delivered success payload
	LatestCookies(ctx context.Context) (*models.WebhookPayload, error)

	// Running returns the ID of the active run
	Running() string

	// Health returns refresh service health status
	Health() map[string]interface{}
}
