/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the royalty investment API server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse environment configuration
  2. Build the zap logger
  3. Initialize the SQLite store
  4. Wire engine, payment gateway, handler and router
  5. Optionally start the distribution scheduler
  6. Start the server with graceful shutdown

ENVIRONMENT:
  PORT                       HTTP server port (default: 8080)
  DB_PATH                    SQLite database path (default: royalty.db)
                             Use ":memory:" for an in-memory database
  JWT_SECRET                 HS256 secret for bearer tokens (required)
  ADMIN_TOKEN                shared token for /api/admin routes
  PAYMENT_API_KEY            payment provider secret key
  PAYMENT_WEBHOOK_SECRET     webhook signing secret
  CHECKOUT_SUCCESS_URL       post-payment redirect
  CHECKOUT_CANCEL_URL        cancelled-checkout redirect
  ALLOWED_ORIGINS            comma-separated CORS origins
  DISTRIBUTION_SCHEDULER     "true" enables the background scheduler
  SCHEDULER_INTERVAL         scheduler tick interval (default: 1h)
  LOG_DEVEL                  "true" switches to the development logger

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/tunevest/royalty-engine/api"
	"github.com/tunevest/royalty-engine/gateway"
	"github.com/tunevest/royalty-engine/royalty"
	"github.com/tunevest/royalty-engine/store/sqlite"
)

type config struct {
	Port                 int           `envconfig:"PORT" default:"8080"`
	DBPath               string        `envconfig:"DB_PATH" default:"royalty.db"`
	JWTSecret            string        `envconfig:"JWT_SECRET" required:"true"`
	AdminToken           string        `envconfig:"ADMIN_TOKEN"`
	PaymentAPIKey        string        `envconfig:"PAYMENT_API_KEY"`
	PaymentWebhookSecret string        `envconfig:"PAYMENT_WEBHOOK_SECRET"`
	CheckoutSuccessURL   string        `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:3000/checkout/success"`
	CheckoutCancelURL    string        `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:3000/checkout/cancel"`
	AllowedOrigins       []string      `envconfig:"ALLOWED_ORIGINS"`
	Scheduler            bool          `envconfig:"DISTRIBUTION_SCHEDULER" default:"false"`
	SchedulerInterval    time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"1h"`
	LogDevel             bool          `envconfig:"LOG_DEVEL" default:"false"`
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogDevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Engine and payment gateway
	engine := royalty.NewEngine(store, logger)

	handler := api.NewHandler(store, engine, logger)
	handler.SuccessURL = cfg.CheckoutSuccessURL
	handler.CancelURL = cfg.CheckoutCancelURL
	if cfg.PaymentAPIKey != "" {
		handler.Gateway = &gateway.Client{APIKey: cfg.PaymentAPIKey}
	}
	if cfg.PaymentWebhookSecret != "" {
		handler.Verifier = &gateway.Verifier{Secret: cfg.PaymentWebhookSecret}
	}

	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		AdminToken:     cfg.AdminToken,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	scheduler := api.NewDistributionScheduler(store, engine, logger)
	scheduler.Enabled = cfg.Scheduler
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Bool("scheduler", cfg.Scheduler))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func buildLogger(devel bool) (*zap.Logger, error) {
	if devel {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
