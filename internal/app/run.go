package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"token-broker/internal/common/logging"
	"token-broker/internal/config"
)

const shutdownTimeout = 30 * time.Second

// LoadConfig reads .env when present, then the environment, and validates.
func LoadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitLogging configures the global logger from cfg.
func InitLogging(cfg *config.Config) error {
	return logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile, cfg.LogFormat == "json")
}

// Run is the main entry point for the broker daemon
func Run() error {
	cfg, err := LoadConfig()
	if err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}
	if err := InitLogging(cfg); err != nil {
		logging.Error("Failed to initialize logging", err)
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting token broker",
		logging.String("port", cfg.Port),
		logging.String("database", cfg.DatabaseType),
		logging.String("pending_store", cfg.PendingStore),
	)

	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.NewServer()
	if err != nil {
		logging.Error("Failed to build HTTP server", err)
		return err
	}
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}
	app.StartBackground()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
		logging.Info("Shutting down server...")
	case serveErr = <-srv.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	logging.Info("Server exited")
	return serveErr
}
