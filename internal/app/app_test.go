package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		DatabaseType:         "memory",
		PendingStore:         "database",
		JWTSecret:            "test-secret-key-that-is-long-enough-for-hs256",
		ProviderClientID:     "client",
		ProviderClientSecret: "secret",
		ProviderAuthURL:      "https://login.example/authorize",
		ProviderTokenURL:     "https://login.example/token",
		ProviderVerifyURL:    "https://login.example/verify",
		ProviderTimeout:      time.Second,
		CallbackURL:          "https://broker.example/oauth/callback",
		PendingAuthLifetime:  10 * time.Minute,
		DefaultExpiryWindow:  2 * time.Minute,
		ReaperSchedule:       "@every 5m",
	}
}

func TestNewWithDatabasePendingStore(t *testing.T) {
	app, err := New(testConfig())
	require.NoError(t, err)
	defer app.Cleanup()

	assert.Nil(t, app.RedisClient)
	assert.Nil(t, app.Locks)
	assert.NotNil(t, app.Manager)
	assert.False(t, app.Reaper.Running())

	app.StartBackground()
	assert.True(t, app.Reaper.Running())

	router, err := app.Router()
	require.NoError(t, err)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestStartBackgroundLogsReaperStartOnce(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.InfoLevel, Output: &buf, JSON: true})
	require.NoError(t, err)
	previous := logging.GetGlobalLogger()
	logging.SetGlobalLogger(logger)
	t.Cleanup(func() { logging.SetGlobalLogger(previous) })

	app, err := New(testConfig())
	require.NoError(t, err)
	app.StartBackground()
	app.Cleanup()

	assert.Equal(t, 1, strings.Count(buf.String(), "Pending authorization reaper started"))
}

func TestNewWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.PendingStore = "redis"
	cfg.ReaperLock = true
	cfg.RateLimit = 1
	cfg.RateLimitWindow = time.Minute
	cfg.RedisAddress = mr.Addr()

	app, err := New(cfg)
	require.NoError(t, err)
	defer app.Cleanup()

	require.NotNil(t, app.RedisClient)
	require.NotNil(t, app.Locks)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	principal, err := app.Storage.CreatePrincipal(ctx, false)
	require.NoError(t, err)

	_, err = app.Manager.BeginAuthorization(ctx, principal.ID, "read", cfg.CallbackURL, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys(), "pending authorization should live in redis")

	router, err := app.Router()
	require.NoError(t, err)
	codes := make([]int, 2)
	for i := range codes {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes[i] = rr.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "unknown database", mutate: func(c *config.Config) { c.DatabaseType = "oracle" }},
		{name: "bad schedule", mutate: func(c *config.Config) { c.ReaperSchedule = "whenever" }},
		{name: "missing provider", mutate: func(c *config.Config) { c.ProviderClientID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
}

func TestNewFailsWhenRedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.ReaperLock = true
	cfg.RedisAddress = "127.0.0.1:1"

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}
