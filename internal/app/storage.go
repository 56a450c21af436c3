package app

import (
	"token-broker/internal/common/logging"
	"token-broker/internal/storage"
	"token-broker/internal/storage/redisstore"

	// Register the credential store backends.
	_ "token-broker/internal/storage/memory"
	_ "token-broker/internal/storage/postgres"
	_ "token-broker/internal/storage/sqlite"
)

const pendingKeyPrefix = "tokenbroker:pending:"

func (app *App) initializeStorage() error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	case "memory":
		app.Logger.Warn("Database: in-memory, credentials are lost on restart")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return err
	}
	app.Storage = store
	return nil
}

// usePendingRedis moves pending authorizations onto Redis, keeping
// credentials and principals in the database.
func (app *App) usePendingRedis() {
	pending := redisstore.NewPendingStore(app.RedisClient, pendingKeyPrefix)
	app.Storage = storage.WithPendingStore(app.Storage, pending)
	app.Logger.Info("Pending authorizations: Redis", logging.String("prefix", pendingKeyPrefix))
}
