package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/storage"
	"token-broker/internal/storage/storagetest"
)

// setupTestAdapter connects to POSTGRES_TEST_URL and empties the broker tables.
func setupTestAdapter(t *testing.T) *Adapter {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_URL")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}

	adapter, err := NewAdapter(&Config{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	_, err = adapter.pool.Exec(context.Background(),
		`TRUNCATE pending_authorizations, access_credentials, principals RESTART IDENTITY`)
	require.NoError(t, err)
	return adapter
}

func TestPostgresAdapter(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Storage {
		return setupTestAdapter(t)
	})
}

func TestConfig(t *testing.T) {
	c := &Config{Host: "db", Database: "broker", Username: "svc", Password: "p@ss"}
	require.NoError(t, c.Validate())
	assert.Equal(t, 5432, c.Port)
	assert.Equal(t, "prefer", c.SSLMode)
	assert.Equal(t, "postgres://svc:p%40ss@db:5432/broker?sslmode=prefer", c.GetConnectionString())

	assert.Error(t, (&Config{Database: "x", Username: "y"}).Validate())
	assert.Error(t, (&Config{Host: "x", Username: "y"}).Validate())

	withURL := &Config{URL: "postgres://u@h/db"}
	require.NoError(t, withURL.Validate())
	assert.Equal(t, "postgres://u@h/db", withURL.GetConnectionString())
}

func TestConfigFromGeneric(t *testing.T) {
	c := configFromGeneric(storage.GenericConfig{
		"host":     "db",
		"port":     "6543",
		"database": "broker",
		"username": "svc",
		"password": "pw",
		"sslmode":  "disable",
	})
	assert.Equal(t, 6543, c.Port)
	assert.Equal(t, "db", c.Host)
	assert.Empty(t, c.URL)
	assert.Equal(t, "postgres", c.GetType())
}
