package storage

import (
	"fmt"

	"token-broker/internal/common/errors"
	"token-broker/internal/config"
)

// NewStorage creates the credential store selected by DATABASE_TYPE.
// The backend package must have been imported so its factory is registered.
func NewStorage(cfg *config.Config) (Storage, error) {
	var storageConfig StorageConfig

	switch cfg.DatabaseType {
	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		storageConfig = GenericConfig{
			"type":     "postgres",
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}

	case "memory":
		storageConfig = GenericConfig{"type": "memory"}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	store, err := Open(storageConfig)
	if err != nil {
		return nil, errors.ConnectionError("failed to open credential store", err)
	}
	return store, nil
}
