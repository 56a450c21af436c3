// Package app assembles the broker from configuration and runs it.
package app

import (
	"token-broker/internal/auth"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/identity"
	"token-broker/internal/locks"
	"token-broker/internal/oauth2"
	"token-broker/internal/redis"
	"token-broker/internal/storage"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.Storage
	RedisClient *redis.Client
	Locks       *locks.RedsyncManager
	Identity    *identity.Client
	Manager     *oauth2.Manager
	Reaper      *oauth2.Reaper
	Auth        *auth.Auth
	Logger      logging.Logger
}

// New builds every component in dependency order. Nothing is started;
// the reaper begins sweeping once Run calls StartBackground.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	steps := []func() error{
		app.initializeStorage,
		app.initializeRedis,
		app.initializeIdentity,
		app.initializeManager,
		app.initializeReaper,
		app.initializeAuth,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			app.Cleanup()
			return nil, err
		}
	}

	return app, nil
}

// StartBackground starts the scheduled reaper.
func (app *App) StartBackground() {
	app.Reaper.Start()
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Reaper != nil {
		app.Reaper.Stop()
	}
	if app.Locks != nil {
		if err := app.Locks.Close(); err != nil {
			app.Logger.Warn("Error releasing locks", logging.Err(err))
		}
	}
	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("Error closing storage", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
