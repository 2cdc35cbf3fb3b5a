package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/nexconsult/cookie-refresher/internal/api/handlers"
	"github.com/nexconsult/cookie-refresher/internal/api/middleware"
	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/services"
)

// Dependencies are the services the HTTP layer talks to
type Dependencies struct {
	Health      handlers.HealthChecker
	Refresh     services.RefreshServiceInterface
	Diagnostics services.ArtifactStore
}

// DependenciesFrom builds the HTTP dependencies from a service container
func DependenciesFrom(container *services.Container) Dependencies {
	return Dependencies{
		Health:      container,
		Refresh:     container.RefreshService,
		Diagnostics: container.DiagnosticsService,
	}
}

// Server represents the HTTP server
type Server struct {
	Router      *gin.Engine
	config      *config.Config
	logger      *logrus.Logger
	deps        Dependencies
	rateLimiter *middleware.RateLimiter
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, logger *logrus.Logger, deps Dependencies) *Server {
	server := &Server{
		config: cfg,
		logger: logger,
		deps:   deps,
	}

	server.setupRouter()
	return server
}

// setupRouter configures the router with all routes and middleware
func (s *Server) setupRouter() {
	s.Router = gin.New()

	// Global middleware
	s.Router.Use(middleware.RequestID())
	s.Router.Use(middleware.Logger(s.logger))
	s.Router.Use(middleware.Recovery(s.logger))
	s.Router.Use(middleware.CORS(s.config.Security.CORS))
	s.Router.Use(middleware.Security())

	// Health checks and metrics are not rate limited
	healthHandler := handlers.NewHealthHandler(s.deps.Health, s.logger)
	s.Router.GET("/health", healthHandler.GetHealth)
	s.Router.GET("/health/ready", healthHandler.GetReadiness)
	s.Router.GET("/health/live", healthHandler.GetLiveness)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation
	if s.config.Server.Environment != "production" {
		s.Router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		s.Router.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
		})
	}

	s.rateLimiter = middleware.NewRateLimiter(s.config.Security.RateLimit)

	// API v1 routes
	v1 := s.Router.Group("/api/v1")
	v1.Use(s.rateLimiter.Middleware())
	v1.Use(middleware.APIKeyAuth(s.config.Security.APIKey))
	{
		refreshHandler := handlers.NewRefreshHandler(s.deps.Refresh, s.logger)
		v1.POST("/refresh", refreshHandler.StartRefresh)
		v1.GET("/refresh/:id", refreshHandler.GetRun)
		v1.GET("/cookies/latest", refreshHandler.GetLatestCookies)

		diagnosticsHandler := handlers.NewDiagnosticsHandler(s.deps.Diagnostics, s.logger)
		v1.GET("/diagnostics/:key", diagnosticsHandler.GetArtifact)
	}

	// 404 handler
	s.Router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":     "Not Found",
			"message":   "The requested resource was not found",
			"timestamp": time.Now(),
			"path":      c.Request.URL.Path,
		})
	})

	// 405 handler
	s.Router.HandleMethodNotAllowed = true
	s.Router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":     "Method Not Allowed",
			"message":   "The requested method is not allowed for this resource",
			"timestamp": time.Now(),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		})
	})
}

// Close releases background resources held by the router
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}
