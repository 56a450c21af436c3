// Package auth guards the broker's HTTP API with HS256 bearer tokens minted
// for principals.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/storage"
)

const (
	issuer = "token-broker"
	// DefaultTokenLifetime is how long minted API tokens stay valid.
	DefaultTokenLifetime = 24 * time.Hour
)

type Auth struct {
	directory storage.PrincipalDirectory
	secret    []byte
	lifetime  time.Duration
}

// Claims are the JWT claims carried by API tokens.
type Claims struct {
	PrincipalID int64 `json:"pid"`
	Admin       bool  `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

type contextKey struct{}

func New(directory storage.PrincipalDirectory, cfg *config.Config) *Auth {
	return &Auth{
		directory: directory,
		secret:    []byte(cfg.JWTSecret),
		lifetime:  DefaultTokenLifetime,
	}
}

// GenerateJWT mints an API token for principal.
func (a *Auth) GenerateJWT(principal *storage.Principal) (string, error) {
	now := time.Now()
	claims := &Claims{
		PrincipalID: principal.ID,
		Admin:       principal.Admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principal.ID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return signed, nil
}

// ValidateJWT checks signature, issuer and expiry and returns the claims.
func (a *Auth) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.AuthError(fmt.Sprintf("invalid token: %v", err))
	}
	if !token.Valid || claims.PrincipalID == 0 {
		return nil, errors.AuthError("invalid token")
	}
	return claims, nil
}

// RequireAuth admits requests carrying a valid bearer token for an active
// principal and stores that principal in the request context.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			unauthorized(w, "Authentication required")
			return
		}

		claims, err := a.ValidateJWT(tokenString)
		if err != nil {
			unauthorized(w, "Invalid token")
			return
		}

		principal, err := a.directory.GetPrincipal(r.Context(), claims.PrincipalID)
		if err != nil {
			logging.Error("Failed to load principal for request", err, logging.Int64("principal_id", claims.PrincipalID))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "Internal server error"})
			return
		}
		if !principal.Active() {
			unauthorized(w, "Principal disabled or unknown")
			return
		}

		ctx := context.WithValue(r.Context(), contextKey{}, principal)
		ctx = logging.ContextWithPrincipal(ctx, principal.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFromContext returns the principal stored by RequireAuth.
func PrincipalFromContext(ctx context.Context) (*storage.Principal, bool) {
	principal, ok := ctx.Value(contextKey{}).(*storage.Principal)
	return principal, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
