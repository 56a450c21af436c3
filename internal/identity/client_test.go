package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
)

type fakeProvider struct {
	server *httptest.Server
	delay  time.Duration
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(fp.delay)
		require.NoError(t, r.ParseForm())

		user, pass, ok := r.BasicAuth()
		if !ok {
			user, pass = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		if user != "client" || pass != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			assert.Equal(t, "https://broker.example/cb", r.PostForm.Get("redirect_uri"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"token_type":    "Bearer",
				"expires_in":    1200,
			})
		case "refresh_token":
			switch r.PostForm.Get("refresh_token") {
			case "rt-1":
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token":  "at-2",
					"refresh_token": "rt-2",
					"token_type":    "Bearer",
					"expires_in":    1200,
				})
			case "broken":
				w.WriteHeader(http.StatusInternalServerError)
			default:
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			}
		}
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer at-1":
			writeJSON(w, http.StatusOK, map[string]interface{}{"CharacterID": 90000001, "CharacterName": "Test Pilot"})
		case "Bearer nameless":
			writeJSON(w, http.StatusOK, map[string]interface{}{"CharacterID": 90000001})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newTestClient(t *testing.T, fp *fakeProvider, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      fp.server.URL + "/authorize",
		TokenURL:     fp.server.URL + "/token",
		VerifyURL:    fp.server.URL + "/verify",
		Timeout:      timeout,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewClient(Config{ClientID: "c", ClientSecret: "s"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	client, err := NewClient(Config{ClientID: "c", ClientSecret: "s", AuthURL: "https://a", TokenURL: "https://t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)
	assert.Equal(t, DefaultNameField, client.config.NameField)
	assert.False(t, client.Breaker().Open())
	assert.Equal(t, breakerName, client.Breaker().Name())
}

func TestAuthorizationURL(t *testing.T) {
	client := newTestClient(t, newFakeProvider(t), time.Second)

	raw := client.AuthorizationURL("https://broker.example/cb", "read  write", "state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "https://broker.example/cb", q.Get("redirect_uri"))
	assert.Equal(t, "read write", q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
}

func TestExchange(t *testing.T) {
	client := newTestClient(t, newFakeProvider(t), time.Second)
	ctx := context.Background()

	token, err := client.Exchange(ctx, "https://broker.example/cb", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "at-1", token.AccessToken)
	assert.Equal(t, "rt-1", token.RefreshToken)
	assert.InDelta(t, (20 * time.Minute).Seconds(), token.ExpiresIn.Seconds(), 2)

	_, err = client.Exchange(ctx, "https://broker.example/cb", "bad-code")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestRefresh(t *testing.T) {
	client := newTestClient(t, newFakeProvider(t), time.Second)
	ctx := context.Background()

	token, err := client.Refresh(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", token.AccessToken)
	assert.Equal(t, "rt-2", token.RefreshToken)

	_, err = client.Refresh(ctx, "revoked")
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))

	_, err = client.Refresh(ctx, "broken")
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

func TestVerifyIdentity(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, time.Second)
	ctx := context.Background()

	name, err := client.VerifyIdentity(ctx, "at-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Test Pilot", name)

	name, err = client.VerifyIdentity(ctx, "at-1", fp.server.URL+"/verify")
	require.NoError(t, err)
	assert.Equal(t, "Test Pilot", name)

	_, err = client.VerifyIdentity(ctx, "expired", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeAuth))

	_, err = client.VerifyIdentity(ctx, "nameless", "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestProviderTimeout(t *testing.T) {
	fp := newFakeProvider(t)
	fp.delay = 300 * time.Millisecond
	client := newTestClient(t, fp, 50*time.Millisecond)

	_, err := client.Refresh(context.Background(), "rt-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
}

func TestBreakerOpensOnUnreachableProvider(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, time.Second)
	fp.server.Close()

	ctx := context.Background()
	for i := 0; i < int(circuitbreaker.ProviderSettings.Threshold); i++ {
		_, err := client.Refresh(ctx, "rt-1")
		require.Error(t, err)
		assert.False(t, circuitbreaker.IsRejected(err))
	}

	_, err := client.Refresh(ctx, "rt-1")
	require.Error(t, err)
	assert.True(t, circuitbreaker.IsRejected(err))
	assert.True(t, client.Breaker().Open())
}

func TestRejectionsDoNotOpenBreaker(t *testing.T) {
	client := newTestClient(t, newFakeProvider(t), time.Second)

	for i := 0; i < int(circuitbreaker.ProviderSettings.Threshold)+2; i++ {
		_, err := client.Refresh(context.Background(), "revoked")
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	}
	assert.False(t, client.Breaker().Open())
}
