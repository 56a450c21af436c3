// Package handlers exposes the token lifecycle over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"token-broker/internal/auth"
	"token-broker/internal/circuitbreaker"
	"token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/config"
	"token-broker/internal/storage"
)

// CredentialManager is the part of oauth2.Manager the handlers drive.
type CredentialManager interface {
	BeginAuthorization(ctx context.Context, principalID int64, scopes, callbackURL string, existingCredentialID int64) (string, error)
	CompleteAuthorization(ctx context.Context, state, code, verifyURL string) error
	GetPrincipalCredential(ctx context.Context, principalID, credentialID int64, window time.Duration) (*storage.AccessCredential, error)
	ListCredentials(ctx context.Context, principalID int64) ([]*storage.AccessCredential, error)
	DeleteCredential(ctx context.Context, principalID, credentialID int64) error
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health() error
}

type Handlers struct {
	manager CredentialManager
	store   HealthChecker
	config  *config.Config
	auth    *auth.Auth
	breaker *circuitbreaker.Breaker
}

// New wires the handlers. breaker may be nil.
func New(manager CredentialManager, store HealthChecker, cfg *config.Config, authHandler *auth.Auth, breaker *circuitbreaker.Breaker) *Handlers {
	return &Handlers{
		manager: manager,
		store:   store,
		config:  cfg,
		auth:    authHandler,
		breaker: breaker,
	}
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// sendError writes err with the status its type maps to. Internal failures
// are logged and reported without detail.
func sendError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	body := map[string]interface{}{
		"error": http.StatusText(status),
		"type":  string(errors.GetType(err)),
	}

	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context()).Error("Request failed", err,
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
		)
	} else if appErr, ok := errors.As(err); ok {
		body["error"] = appErr.Message
		if appErr.CredentialID != 0 {
			body["credential_id"] = appErr.CredentialID
		}
	}

	sendJSON(w, status, body)
}
