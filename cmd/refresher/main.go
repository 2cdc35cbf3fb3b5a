package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Import docs for Swagger
	_ "github.com/nexconsult/cookie-refresher/docs"
)

// @title Cookie Refresher API
// @version 1.0
// @description Keeps an authenticated portal session alive and delivers its cookies to a webhook
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.nexconsult.com/support
// @contact.email support@nexconsult.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := Execute(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}
