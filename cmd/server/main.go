package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"user-management-api/backend/pkg/config"
	"user-management-api/backend/pkg/di"
	"user-management-api/backend/pkg/router"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize dependency injection container
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize dependency container: %v", err)
	}
	logger := container.Logger

	logger.Info("Starting application",
		"version", cfg.Server.Version,
		"env", cfg.Server.Env,
		"store", cfg.Store.Driver,
		"rate_limit", cfg.RateLimit.Limit,
		"window_minutes", cfg.RateLimit.WindowMinutes,
	)

	// Initialize and setup router
	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	// Start the server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until we receive a signal or the listener fails
	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("Shutting down server...")
	case err := <-serverErr:
		logger.LogError(err, "Server failed to start")
		exitCode = 1
	}

	// Create a deadline to wait for
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "Server forced to shutdown")
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.LogError(err, "Failed to release resources")
	}

	logger.Info("Server exited gracefully")
	if exitCode != 0 {
		cancel()
		os.Exit(exitCode)
	}
}
