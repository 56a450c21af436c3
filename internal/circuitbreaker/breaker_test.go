package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
)

func failing(ctx context.Context) error { return fmt.Errorf("connection refused") }
func healthy(ctx context.Context) error { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("threshold", Settings{Threshold: 3}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, failing)
		require.Error(t, err)
		assert.False(t, IsRejected(err))
	}
	require.True(t, b.Open())

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "an open circuit must not reach the provider")
	assert.True(t, IsRejected(err))
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Contains(t, err.Error(), "threshold")

	snap := b.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, "threshold", snap.Name)
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := New("cooldown", Settings{Threshold: 1, Cooldown: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	require.True(t, b.Open())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, "half-open", b.Snapshot().State)

	require.NoError(t, b.Execute(ctx, healthy))
	assert.Equal(t, "closed", b.Snapshot().State)
}

func TestProviderAnswersKeepCircuitClosed(t *testing.T) {
	b := New("answers", Settings{Threshold: 2}, nil)
	ctx := context.Background()

	answers := []error{
		errors.AuthError("invalid_grant"),
		errors.ValidationError("no access token"),
		errors.NotFoundError("credential"),
	}
	for i := 0; i < 3; i++ {
		for _, answer := range answers {
			answer := answer
			err := b.Execute(ctx, func(context.Context) error { return answer })
			assert.Equal(t, answer, err)
		}
	}
	assert.False(t, b.Open())
	assert.Zero(t, b.Snapshot().Failures)
}

func TestExecutePassesContextAndHonoursCancel(t *testing.T) {
	b := New("ctx", ProviderSettings, nil)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	require.NoError(t, b.Execute(ctx, func(got context.Context) error {
		assert.Equal(t, "v", got.Value(key{}))
		return nil
	}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	called := false
	err := b.Execute(cancelled, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSettingsDefaults(t *testing.T) {
	assert.Equal(t, ProviderSettings, Settings{}.withDefaults())
	assert.Equal(t, uint32(2), Settings{Threshold: 2}.withDefaults().Threshold)
}
