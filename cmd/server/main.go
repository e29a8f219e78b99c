/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reward points engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and configuration
  2. Initialize logger
  3. Initialize SQLite store
  4. Create API handler with domain services
  5. Start the budget reset scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  Via config.yaml in the working directory or ./config, overridable by
  REWARD_* environment variables (see config package). A .env file is
  loaded first so local overrides work without exporting.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with defaults (./data/rewards.db, port 8080)
  ./server

  # In-memory database for a throwaway demo
  REWARD_DATABASE_PATH=":memory:" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pulse/reward-engine/api"
	"github.com/pulse/reward-engine/config"
	"github.com/pulse/reward-engine/logging"
	"github.com/pulse/reward-engine/store/sqlite"
)

func main() {
	// Local overrides; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to initialize database", "path", cfg.Database.Path, "error", err)
	}
	defer store.Close()

	// Initialize handler and scheduler
	handler := api.NewHandler(store, logger)

	scheduler := api.NewBudgetResetScheduler(handler, logger)
	scheduler.Enabled = cfg.Scheduler.Enabled
	if cfg.Scheduler.CheckInterval > 0 {
		scheduler.CheckInterval = cfg.Scheduler.CheckInterval
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create router and server
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
