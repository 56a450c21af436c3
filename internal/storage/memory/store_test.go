package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/storage"
	"token-broker/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.RunStoreTests(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestMemoryFactoryRegistered(t *testing.T) {
	assert.True(t, storage.DefaultRegistry.Has("memory"))

	store, err := storage.Open(storage.GenericConfig{"type": "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Store{}, store)
}
