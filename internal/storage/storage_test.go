package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/config"
	"token-broker/internal/storage"
	"token-broker/internal/storage/memory"
	"token-broker/internal/storage/storagetest"
)

type stubFactory struct {
	created storage.StorageConfig
}

func (f *stubFactory) Create(config storage.StorageConfig) (storage.Storage, error) {
	f.created = config
	return memory.New(), nil
}

func (f *stubFactory) GetType() string { return "stub" }

func TestRegistry(t *testing.T) {
	registry := storage.NewRegistry()
	factory := &stubFactory{}

	assert.False(t, registry.Has("stub"))
	_, err := registry.Open(storage.GenericConfig{"type": "stub"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	registry.Register("stub", factory)
	registry.Register("alpha", factory)
	assert.True(t, registry.Has("stub"))
	assert.Equal(t, []string{"alpha", "stub"}, registry.Names())
	assert.Panics(t, func() { registry.Register("stub", factory) })
	assert.Panics(t, func() { registry.Register("nil", nil) })

	cfg := storage.GenericConfig{"type": "stub", "path": "/tmp/x"}
	store, err := registry.Open(cfg)
	require.NoError(t, err)
	assert.NotNil(t, store)
	assert.Equal(t, cfg, factory.created)

	_, err = registry.Open(storage.GenericConfig{"type": "beta"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "have: alpha, stub")
}

func TestGenericConfig(t *testing.T) {
	cfg := storage.GenericConfig{"type": "sqlite", "path": "x.db", "connection_string": "dsn", "port": 5}
	assert.Equal(t, "sqlite", cfg.GetType())
	assert.Equal(t, "dsn", cfg.GetConnectionString())
	assert.Equal(t, "x.db", cfg.String("path"))
	assert.Equal(t, "", cfg.String("port"))
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "unknown", storage.GenericConfig{}.GetType())
}

func TestNewStorage(t *testing.T) {
	store, err := storage.NewStorage(&config.Config{DatabaseType: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	_, err = storage.NewStorage(&config.Config{DatabaseType: "mysql"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestEntityHelpers(t *testing.T) {
	now := time.Now()

	p := &storage.PendingAuthorization{ExpiresAt: now}
	assert.True(t, p.Expired(now))
	assert.False(t, p.Expired(now.Add(-time.Second)))
	assert.False(t, p.IsReauthentication())
	p.ExistingCredentialID = 4
	assert.True(t, p.IsReauthentication())

	c := &storage.AccessCredential{}
	assert.False(t, c.Usable())
	c.RefreshToken = "rt"
	assert.True(t, c.Usable())

	var nilPrincipal *storage.Principal
	assert.False(t, nilPrincipal.Active())
	assert.True(t, (&storage.Principal{}).Active())
	assert.False(t, (&storage.Principal{Disabled: true}).Active())
}

func TestWithPendingStore(t *testing.T) {
	base := memory.New()
	pending := memory.New()
	closed := false
	store := storage.WithPendingStore(base, pending, func() error {
		closed = true
		return errors.New("close failed")
	})

	t.Run("conformance", func(t *testing.T) {
		storagetest.RunStoreTests(t, func(t *testing.T) storage.Storage {
			return storage.WithPendingStore(memory.New(), memory.New())
		})
	})

	ctx := context.Background()
	p := storagetest.NewPending(1, time.Minute)
	require.NoError(t, store.CreatePendingAuthorization(ctx, p, storagetest.Sealer(t)))

	inPending, err := pending.GetPendingAuthorization(ctx, p.ID)
	require.NoError(t, err)
	assert.NotNil(t, inPending)

	inBase, err := base.GetPendingAuthorization(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, inBase, "pending authorizations must bypass the base store")

	principal, err := store.CreatePrincipal(ctx, false)
	require.NoError(t, err)
	fromBase, err := base.GetPrincipal(ctx, principal.ID)
	require.NoError(t, err)
	assert.NotNil(t, fromBase)

	err = store.Close()
	assert.True(t, closed)
	assert.EqualError(t, err, "close failed")
}
