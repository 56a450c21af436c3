package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClientWithTimeout(t *testing.T) {
	client := NewHTTPClientWithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, maxIdleConnsPerHost, transport.MaxIdleConnsPerHost)
	assert.Equal(t, 5*time.Second, transport.TLSHandshakeTimeout)
}

func TestGetJSONWithBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"CharacterName":"Pilot"}`))
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"forbidden"}`))
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			w.Write([]byte(`not json`))
		}
	}))
	defer server.Close()

	client := server.Client()
	ctx := context.Background()

	var out map[string]interface{}
	require.NoError(t, GetJSONWithBearer(ctx, client, server.URL+"/ok", "tok", &out))
	assert.Equal(t, "Pilot", out["CharacterName"])

	err := GetJSONWithBearer(ctx, client, server.URL+"/denied", "tok", &out)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.True(t, statusErr.ClientError())
	assert.Contains(t, statusErr.Error(), "forbidden")

	err = GetJSONWithBearer(ctx, client, server.URL+"/broken", "tok", &out)
	require.True(t, errors.As(err, &statusErr))
	assert.False(t, statusErr.ClientError())

	err = GetJSONWithBearer(ctx, client, server.URL+"/garbage", "tok", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestGetJSONWithBearerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var out map[string]interface{}
	err := GetJSONWithBearer(ctx, server.Client(), server.URL, "tok", &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
