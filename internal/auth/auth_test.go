package auth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"token-broker/internal/auth"
	"token-broker/internal/common/errors"
	"token-broker/internal/config"
	"token-broker/internal/storage"
)

const testSecret = "test-secret-key-that-is-long-enough-for-hs256"

// MockDirectory is a mock implementation of storage.PrincipalDirectory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) CreatePrincipal(ctx context.Context, admin bool) (*storage.Principal, error) {
	args := m.Called(ctx, admin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Principal), args.Error(1)
}

func (m *MockDirectory) GetPrincipal(ctx context.Context, id int64) (*storage.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Principal), args.Error(1)
}

func (m *MockDirectory) TouchPrincipal(ctx context.Context, id int64, at time.Time) error {
	return m.Called(ctx, id, at).Error(0)
}

func (m *MockDirectory) SetPrincipalDisabled(ctx context.Context, id int64, disabled bool) error {
	return m.Called(ctx, id, disabled).Error(0)
}

func newAuth(directory storage.PrincipalDirectory, secret string) *auth.Auth {
	return auth.New(directory, &config.Config{JWTSecret: secret})
}

func TestGenerateJWT(t *testing.T) {
	authService := newAuth(new(MockDirectory), testSecret)

	tests := []struct {
		name      string
		principal *storage.Principal
	}{
		{name: "regular principal", principal: &storage.Principal{ID: 7}},
		{name: "admin principal", principal: &storage.Principal{ID: 1, Admin: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := authService.GenerateJWT(tt.principal)
			require.NoError(t, err)
			assert.NotEmpty(t, token)

			parsedToken, err := jwt.ParseWithClaims(token, &auth.Claims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(testSecret), nil
			})
			require.NoError(t, err)
			assert.True(t, parsedToken.Valid)

			claims, ok := parsedToken.Claims.(*auth.Claims)
			require.True(t, ok)
			assert.Equal(t, tt.principal.ID, claims.PrincipalID)
			assert.Equal(t, tt.principal.Admin, claims.Admin)
			assert.Equal(t, fmt.Sprint(tt.principal.ID), claims.Subject)
			assert.Equal(t, "token-broker", claims.Issuer)
			assert.WithinDuration(t, time.Now().Add(auth.DefaultTokenLifetime), claims.ExpiresAt.Time, time.Minute)
		})
	}
}

func TestValidateJWT(t *testing.T) {
	authService := newAuth(new(MockDirectory), testSecret)

	validToken, err := authService.GenerateJWT(&storage.Principal{ID: 7})
	require.NoError(t, err)

	wrongSecretToken, err := newAuth(new(MockDirectory), "different-secret-key-that-is-wrong-000").GenerateJWT(&storage.Principal{ID: 7})
	require.NoError(t, err)

	sign := func(claims *auth.Claims, method jwt.SigningMethod, key interface{}) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	expired := sign(&auth.Claims{
		PrincipalID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			Issuer:    "token-broker",
		},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	foreignIssuer := sign(&auth.Claims{
		PrincipalID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	noExpiry := sign(&auth.Claims{
		PrincipalID:      7,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "token-broker"},
	}, jwt.SigningMethodHS256, []byte(testSecret))

	wrongAlg := sign(&auth.Claims{
		PrincipalID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "token-broker",
		},
	}, jwt.SigningMethodHS512, []byte(testSecret))

	tests := []struct {
		name          string
		token         string
		expectedError bool
	}{
		{name: "valid token", token: validToken},
		{name: "wrong secret", token: wrongSecretToken, expectedError: true},
		{name: "expired", token: expired, expectedError: true},
		{name: "foreign issuer", token: foreignIssuer, expectedError: true},
		{name: "missing expiry", token: noExpiry, expectedError: true},
		{name: "unexpected algorithm", token: wrongAlg, expectedError: true},
		{name: "garbage", token: "not.a.jwt", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := authService.ValidateJWT(tt.token)
			if tt.expectedError {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), claims.PrincipalID)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	directory := new(MockDirectory)
	authService := newAuth(directory, testSecret)

	active := &storage.Principal{ID: 7}
	disabled := &storage.Principal{ID: 8, Disabled: true}
	directory.On("GetPrincipal", mock.Anything, int64(7)).Return(active, nil)
	directory.On("GetPrincipal", mock.Anything, int64(8)).Return(disabled, nil)
	directory.On("GetPrincipal", mock.Anything, int64(9)).Return(nil, nil)
	directory.On("GetPrincipal", mock.Anything, int64(10)).Return(nil, fmt.Errorf("db down"))

	tokenFor := func(id int64) string {
		token, err := authService.GenerateJWT(&storage.Principal{ID: id})
		require.NoError(t, err)
		return token
	}

	var seen *storage.Principal
	handler := authService.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = principal
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name           string
		header         string
		expectedStatus int
	}{
		{name: "valid token", header: "Bearer " + tokenFor(7), expectedStatus: http.StatusOK},
		{name: "missing header", header: "", expectedStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + tokenFor(7), expectedStatus: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", expectedStatus: http.StatusUnauthorized},
		{name: "disabled principal", header: "Bearer " + tokenFor(8), expectedStatus: http.StatusUnauthorized},
		{name: "unknown principal", header: "Bearer " + tokenFor(9), expectedStatus: http.StatusUnauthorized},
		{name: "directory failure", header: "Bearer " + tokenFor(10), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/credentials", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, active, seen)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, rr.Body.String(), "error")
			}
		})
	}
}

func TestPrincipalFromContextEmpty(t *testing.T) {
	_, ok := auth.PrincipalFromContext(context.Background())
	assert.False(t, ok)
}
