package app

import (
	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/locks"
	"token-broker/internal/redis"
)

func (app *App) initializeRedis() error {
	if !app.Config.UsesRedis() {
		app.Logger.Info("Redis: Not configured (pending authorizations in database, reaper unlocked)")
		return nil
	}

	client, err := redis.NewClient(&redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDBNumber(),
		PoolSize: app.Config.RedisPoolSizeNumber(),
	})
	if err != nil {
		return errors.ConnectionError("failed to connect to redis", err)
	}
	app.RedisClient = client
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))

	if app.Config.PendingStore == "redis" {
		app.usePendingRedis()
	}

	if app.Config.ReaperLock {
		manager, err := locks.NewRedsyncManager(client)
		if err != nil {
			return err
		}
		app.Locks = manager
		app.Logger.Info("Distributed Locks: Enabled")
	}

	return nil
}
