package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nexconsult/cookie-refresher/internal/api"
	"github.com/nexconsult/cookie-refresher/internal/services"
)

func newServeCmd() *cobra.Command {
	var port int

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			appLogger.Info("Starting cookie refresher server...")

			// Initialize services
			container, err := services.NewContainer(cfg, appLogger)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			defer container.Close()

			// Initialize API server
			server := api.NewServer(cfg, appLogger, api.DependenciesFrom(container))
			defer server.Close()

			// Setup HTTP server
			httpServer := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      server.Router,
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
				IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
			}

			ctx := cmd.Context()
			container.RefreshService.StartScheduler(ctx, cfg.Schedule.Interval)

			// Start server in a goroutine
			serveErr := make(chan error, 1)
			go func() {
				appLogger.WithFields(logrus.Fields{
					"port":        cfg.Server.Port,
					"environment": cfg.Server.Environment,
				}).Info("Server starting...")

				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			// Wait for a shutdown signal or a listener failure
			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
			}

			appLogger.Info("Shutting down server...")

			// Create a deadline for shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				appLogger.Errorf("Server forced to shutdown: %v", err)
			}

			appLogger.Info("Server exited")
			return nil
		},
	}

	serveCmd.Flags().IntVar(&port, "port", 8080, "HTTP port, overrides PORT")

	return serveCmd
}
