package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/refresh"
)

// Container holds all service dependencies
type Container struct {
	config              *config.Config
	logger              *logrus.Logger
	redisClient         *redis.Client
	cleanupCancel       context.CancelFunc
	DiagnosticsService  *DiagnosticsService
	BrowserService      BrowserServiceInterface
	NotificationService NotificationServiceInterface
	RefreshService      *RefreshService
}

// NewContainer creates a new service container
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*Container, error) {
	container := &Container{
		config: cfg,
		logger: logger,
	}

	// Initialize Redis client
	if err := container.initRedis(); err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Initialize services
	if err := container.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return container, nil
}

// initRedis initializes Redis client
func (c *Container) initRedis() error {
	if !c.config.Redis.Enabled {
		c.logger.Info("Redis disabled, diagnostics kept in memory")
		return nil
	}

	c.redisClient = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", c.config.Redis.Host, c.config.Redis.Port),
		Password:     c.config.Redis.Password,
		DB:           c.config.Redis.DB,
		PoolSize:     c.config.Redis.PoolSize,
		DialTimeout:  c.config.Redis.DialTimeout,
		ReadTimeout:  c.config.Redis.ReadTimeout,
		WriteTimeout: c.config.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Redis.DialTimeout+time.Second)
	defer cancel()
	if err := c.redisClient.Ping(ctx).Err(); err != nil {
		c.logger.WithError(err).Warn("Redis connection failed, diagnostics kept in memory")
		c.redisClient.Close()
		c.redisClient = nil
	} else {
		c.logger.Info("Redis connection established")
	}

	return nil
}

// initServices initializes all services
func (c *Container) initServices() error {
	c.DiagnosticsService = NewDiagnosticsService(c.redisClient, c.config.Diagnostics.KeyPrefix, c.config.Diagnostics.TTL, c.logger)

	cleanupCtx, cancel := context.WithCancel(context.Background())
	c.cleanupCancel = cancel
	c.DiagnosticsService.StartCleanupRoutine(cleanupCtx, 5*time.Minute)

	c.BrowserService = NewBrowserService(c.config.Browser, c.logger)
	c.NotificationService = NewNotificationService(c.config.Notify.Timeout, c.logger)

	portal := c.config.Portal
	timeouts := c.config.Timeouts
	orchestrator := refresh.NewOrchestrator(
		c.BrowserService,
		c.NotificationService,
		c.DiagnosticsService,
		NewHumanizer(0),
		refresh.Portal{
			HomeURL: portal.HomeURL,
			Tool: refresh.Target{
				FrameURLSubstring: portal.TriggerFrame,
				Selector:          portal.TriggerSelector,
				URLPattern:        portal.ToolURLPattern,
				FallbackURL:       portal.FallbackURL,
			},
			Required: portal.RequiredCookies,
		},
		refresh.Timeouts{
			Navigation: timeouts.Navigation,
			Visibility: timeouts.Visibility,
			Race:       timeouts.Race,
			Fallback:   timeouts.Fallback,
		},
	)

	c.RefreshService = NewRefreshService(orchestrator, c.DiagnosticsService, RunDefaults{
		WebhookURL: c.config.Notify.WebhookURL,
		ProxyURL:   c.config.Browser.ProxyURL,
		Timeout:    timeouts.Run,
		Cookies:    c.config.LoadInputCookies,
	}, c.logger)

	c.logger.WithField("diagnostics", c.DiagnosticsService.String()).Info("Services initialized")
	return nil
}

// Close closes all service connections
func (c *Container) Close() error {
	var errors []error

	// Wait for the active run before closing its store
	if c.RefreshService != nil {
		if err := c.RefreshService.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close refresh service: %w", err))
		}
	}

	if c.cleanupCancel != nil {
		c.cleanupCancel()
	}

	// Close Redis connection
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close Redis: %w", err))
		}
	}

	// Return combined errors if any
	if len(errors) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errors)
	}

	return nil
}

// Health checks the health of all services
func (c *Container) Health() map[string]interface{} {
	health := make(map[string]interface{})

	if c.DiagnosticsService != nil {
		health["diagnostics"] = c.DiagnosticsService.Health()
	}
	if c.BrowserService != nil {
		health["browser"] = c.BrowserService.Health()
	}
	if c.NotificationService != nil {
		health["notifier"] = c.NotificationService.Health()
	}
	if c.RefreshService != nil {
		health["refresh"] = c.RefreshService.Health()
	}

	return health
}

// GetConfig returns the configuration
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logrus.Logger {
	return c.logger
}
