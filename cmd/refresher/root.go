package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nexconsult/cookie-refresher/internal/api/handlers"
	"github.com/nexconsult/cookie-refresher/internal/config"
	"github.com/nexconsult/cookie-refresher/internal/logger"
)

var (
	envFile string

	cfg       *config.Config
	appLogger *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "refresher",
	Short:         "Refreshes portal session cookies and delivers them to a webhook",
	Version:       handlers.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load environment variables
		if err := loadEnv(); err != nil {
			return err
		}

		// Initialize configuration
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded

		// Initialize logger
		appLogger = logger.New(cfg.Log)

		// Set Gin mode
		if cfg.Server.Environment == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default is ./.env)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
}

// Execute runs the root command with ctx, which is cancelled on shutdown
// signals
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if appLogger != nil {
			if ctx.Err() == nil {
				appLogger.WithError(err).Error("Command failed")
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func loadEnv() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	return nil
}
