package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"token-broker/internal/storage"
)

// TestFixtures is a small seeded world: two principals, a credential each and
// a disabled principal
type TestFixtures struct {
	Alice     *storage.Principal
	Bob       *storage.Principal
	Disabled  *storage.Principal
	AliceCred *storage.AccessCredential
	BobCred   *storage.AccessCredential
}

// SeedStorage creates the fixtures in store
func SeedStorage(t *testing.T, store storage.Storage) *TestFixtures {
	t.Helper()
	ctx := context.Background()

	alice, err := store.CreatePrincipal(ctx, false)
	require.NoError(t, err)
	bob, err := store.CreatePrincipal(ctx, true)
	require.NoError(t, err)
	disabled, err := store.CreatePrincipal(ctx, false)
	require.NoError(t, err)
	require.NoError(t, store.SetPrincipalDisabled(ctx, disabled.ID, true))
	disabled.Disabled = true

	aliceCred := NewCredentialBuilder(alice.ID).Build()
	require.NoError(t, store.CreateCredential(ctx, aliceCred))
	bobCred := NewCredentialBuilder(bob.ID).WithScopes("read write").Build()
	require.NoError(t, store.CreateCredential(ctx, bobCred))

	return &TestFixtures{
		Alice:     alice,
		Bob:       bob,
		Disabled:  disabled,
		AliceCred: aliceCred,
		BobCred:   bobCred,
	}
}
