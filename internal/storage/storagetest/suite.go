// Package storagetest holds the behavioural checks every storage backend must pass.
package storagetest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/storage"
)

// Sealer returns a StateFunc producing distinct states per call and run.
func Sealer(t *testing.T) storage.StateFunc {
	t.Helper()
	buf := make([]byte, 8)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	nonce := hex.EncodeToString(buf)
	return func(id int64) (string, error) {
		return fmt.Sprintf("state-%s-%d", nonce, id), nil
	}
}

// NewPending builds an unsaved pending authorization for principalID expiring after ttl.
func NewPending(principalID int64, ttl time.Duration) *storage.PendingAuthorization {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &storage.PendingAuthorization{
		PrincipalID:          principalID,
		CreatedAt:            now,
		ExpiresAt:            now.Add(ttl),
		Scopes:               "read write",
		RandomSeed:           "00ff",
		ExistingCredentialID: storage.NoCredential,
	}
}

// RunPendingStoreTests exercises a PendingAuthorizationStore.
func RunPendingStoreTests(t *testing.T, newStore func(t *testing.T) storage.PendingAuthorizationStore) {
	ctx := context.Background()

	t.Run("create assigns id and sealed state", func(t *testing.T) {
		store := newStore(t)
		var sealedWith int64
		p := NewPending(1, 10*time.Minute)
		p.ExistingCredentialID = 42

		err := store.CreatePendingAuthorization(ctx, p, func(id int64) (string, error) {
			sealedWith = id
			return fmt.Sprintf("sealed-%d-%d", id, time.Now().UnixNano()), nil
		})
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
		assert.Equal(t, p.ID, sealedWith)
		assert.NotEmpty(t, p.StateKey)

		got, err := store.GetPendingAuthorization(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, p.StateKey, got.StateKey)
		assert.Equal(t, int64(1), got.PrincipalID)
		assert.Equal(t, "read write", got.Scopes)
		assert.Equal(t, int64(42), got.ExistingCredentialID)
		assert.Equal(t, "00ff", got.RandomSeed)
		assert.WithinDuration(t, p.ExpiresAt, got.ExpiresAt, time.Millisecond)
		assert.WithinDuration(t, p.CreatedAt, got.CreatedAt, time.Millisecond)

		byState, err := store.GetPendingAuthorizationByState(ctx, p.StateKey)
		require.NoError(t, err)
		require.NotNil(t, byState)
		assert.Equal(t, p.ID, byState.ID)
	})

	t.Run("states are unique", func(t *testing.T) {
		store := newStore(t)
		seal := Sealer(t)
		seen := map[string]bool{}
		for i := 0; i < 25; i++ {
			p := NewPending(1, time.Minute)
			require.NoError(t, store.CreatePendingAuthorization(ctx, p, seal))
			assert.False(t, seen[p.StateKey], "state %s reused", p.StateKey)
			seen[p.StateKey] = true
		}
	})

	t.Run("seal failure is returned", func(t *testing.T) {
		store := newStore(t)
		sealErr := errors.New("entropy exhausted")
		err := store.CreatePendingAuthorization(ctx, NewPending(1, time.Minute), func(int64) (string, error) {
			return "", sealErr
		})
		require.Error(t, err)
	})

	t.Run("misses return nil", func(t *testing.T) {
		store := newStore(t)
		p, err := store.GetPendingAuthorization(ctx, 987654)
		require.NoError(t, err)
		assert.Nil(t, p)

		p, err = store.GetPendingAuthorizationByState(ctx, "no-such-state")
		require.NoError(t, err)
		assert.Nil(t, p)

		p, err = store.ConsumePendingAuthorization(ctx, "no-such-state")
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("consume is single use", func(t *testing.T) {
		store := newStore(t)
		p := NewPending(7, time.Minute)
		require.NoError(t, store.CreatePendingAuthorization(ctx, p, Sealer(t)))

		first, err := store.ConsumePendingAuthorization(ctx, p.StateKey)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.Equal(t, p.ID, first.ID)
		assert.Equal(t, int64(7), first.PrincipalID)

		second, err := store.ConsumePendingAuthorization(ctx, p.StateKey)
		require.NoError(t, err)
		assert.Nil(t, second)

		gone, err := store.GetPendingAuthorization(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("concurrent consume hands out one record", func(t *testing.T) {
		store := newStore(t)
		p := NewPending(7, time.Minute)
		require.NoError(t, store.CreatePendingAuthorization(ctx, p, Sealer(t)))

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := store.ConsumePendingAuthorization(ctx, p.StateKey)
				if err == nil && got != nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		store := newStore(t)
		p := NewPending(3, time.Minute)
		require.NoError(t, store.CreatePendingAuthorization(ctx, p, Sealer(t)))

		require.NoError(t, store.DeletePendingAuthorization(ctx, p.ID))
		require.NoError(t, store.DeletePendingAuthorization(ctx, p.ID))

		got, err := store.GetPendingAuthorizationByState(ctx, p.StateKey)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list expired honours cutoff", func(t *testing.T) {
		store := newStore(t)
		seal := Sealer(t)

		expired := NewPending(1, -time.Minute)
		boundary := NewPending(1, 0)
		live := NewPending(1, time.Hour)
		for _, p := range []*storage.PendingAuthorization{expired, boundary, live} {
			require.NoError(t, store.CreatePendingAuthorization(ctx, p, seal))
		}

		list, err := store.ListExpiredPendingAuthorizations(ctx, boundary.ExpiresAt)
		require.NoError(t, err)

		ids := map[int64]bool{}
		for _, p := range list {
			ids[p.ID] = true
		}
		assert.True(t, ids[expired.ID], "expired record should be listed")
		assert.True(t, ids[boundary.ID], "record expiring exactly at cutoff should be listed")
		assert.False(t, ids[live.ID], "live record must not be listed")
	})
}

// RunStoreTests exercises a full Storage backend.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	ctx := context.Background()

	RunPendingStoreTests(t, func(t *testing.T) storage.PendingAuthorizationStore {
		return newStore(t)
	})

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, newStore(t).Health())
	})

	t.Run("principals", func(t *testing.T) {
		store := newStore(t)

		p, err := store.CreatePrincipal(ctx, true)
		require.NoError(t, err)
		assert.NotZero(t, p.ID)
		assert.True(t, p.Admin)
		assert.True(t, p.Active())

		seen := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
		require.NoError(t, store.TouchPrincipal(ctx, p.ID, seen))
		require.NoError(t, store.SetPrincipalDisabled(ctx, p.ID, true))

		got, err := store.GetPrincipal(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.Disabled)
		assert.False(t, got.Active())
		assert.WithinDuration(t, seen, got.LastSeenAt, time.Millisecond)

		missing, err := store.GetPrincipal(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("credential lifecycle", func(t *testing.T) {
		store := newStore(t)
		owner, err := store.CreatePrincipal(ctx, false)
		require.NoError(t, err)

		expiry := time.Now().UTC().Add(20 * time.Minute).Truncate(time.Millisecond)
		c := &storage.AccessCredential{
			PrincipalID:       owner.ID,
			Scopes:            "read",
			DisplayName:       "Pilot One",
			AccessToken:       "at-1",
			AccessTokenExpiry: expiry,
			RefreshToken:      "rt-1",
		}
		require.NoError(t, store.CreateCredential(ctx, c))
		assert.NotZero(t, c.ID)

		got, err := store.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "at-1", got.AccessToken)
		assert.Equal(t, "rt-1", got.RefreshToken)
		assert.Equal(t, "Pilot One", got.DisplayName)
		assert.True(t, got.Usable())
		assert.WithinDuration(t, expiry, got.AccessTokenExpiry, time.Millisecond)

		later := expiry.Add(time.Hour)
		require.NoError(t, store.UpdateCredentialTokens(ctx, c.ID, "at-2", later, "rt-2"))
		got, err = store.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "at-2", got.AccessToken)
		assert.Equal(t, "rt-2", got.RefreshToken)
		assert.WithinDuration(t, later, got.AccessTokenExpiry, time.Millisecond)

		got.Scopes = "read write"
		got.DisplayName = "Pilot Renamed"
		got.AccessToken = "at-3"
		require.NoError(t, store.UpdateCredential(ctx, got))
		again, err := store.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "read write", again.Scopes)
		assert.Equal(t, "Pilot Renamed", again.DisplayName)
		assert.Equal(t, "at-3", again.AccessToken)
		assert.Equal(t, c.ID, again.ID)

		require.NoError(t, store.ClearRefreshToken(ctx, c.ID))
		cleared, err := store.GetCredential(ctx, c.ID)
		require.NoError(t, err)
		assert.Empty(t, cleared.RefreshToken)
		assert.False(t, cleared.Usable())
		assert.Equal(t, "at-3", cleared.AccessToken)

		missing, err := store.GetCredential(ctx, 999999)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("list and delete credentials are owner scoped", func(t *testing.T) {
		store := newStore(t)
		alice, err := store.CreatePrincipal(ctx, false)
		require.NoError(t, err)
		bob, err := store.CreatePrincipal(ctx, false)
		require.NoError(t, err)

		mk := func(owner int64, token string) *storage.AccessCredential {
			c := &storage.AccessCredential{
				PrincipalID:       owner,
				Scopes:            "read",
				AccessToken:       token,
				AccessTokenExpiry: time.Now().UTC().Add(time.Hour),
				RefreshToken:      "rt-" + token,
			}
			require.NoError(t, store.CreateCredential(ctx, c))
			return c
		}
		a1 := mk(alice.ID, "a1")
		a2 := mk(alice.ID, "a2")
		b1 := mk(bob.ID, "b1")

		list, err := store.ListCredentials(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, a1.ID, list[0].ID)
		assert.Equal(t, a2.ID, list[1].ID)

		deleted, err := store.DeleteCredential(ctx, alice.ID, b1.ID)
		require.NoError(t, err)
		assert.False(t, deleted, "alice must not delete bob's credential")

		deleted, err = store.DeleteCredential(ctx, alice.ID, a1.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		list, err = store.ListCredentials(ctx, alice.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, a2.ID, list[0].ID)

		still, err := store.GetCredential(ctx, b1.ID)
		require.NoError(t, err)
		assert.NotNil(t, still)
	})
}
