package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"token-broker/internal/auth"
	"token-broker/internal/common/errors"
	"token-broker/internal/oauth2"
	"token-broker/internal/storage"
)

type authorizeRequest struct {
	Scopes               string `json:"scopes"`
	ExistingCredentialID int64  `json:"existing_credential_id,omitempty"`
}

type credentialView struct {
	ID                int64     `json:"id"`
	Scopes            string    `json:"scopes"`
	DisplayName       string    `json:"display_name"`
	AccessTokenExpiry time.Time `json:"access_token_expiry"`
	Usable            bool      `json:"usable"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func viewOf(c *storage.AccessCredential) credentialView {
	return credentialView{
		ID:                c.ID,
		Scopes:            c.Scopes,
		DisplayName:       c.DisplayName,
		AccessTokenExpiry: c.AccessTokenExpiry,
		Usable:            c.Usable(),
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// Authorize starts an authorization for the calling principal.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, r, errors.ValidationError("invalid JSON"))
		return
	}

	redirectURL, err := h.manager.BeginAuthorization(r.Context(), principal.ID, req.Scopes, h.config.CallbackURL, req.ExistingCredentialID)
	if err != nil {
		sendError(w, r, err)
		return
	}

	sendJSON(w, http.StatusCreated, map[string]string{"redirect_url": redirectURL})
}

func (h *Handlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	credentials, err := h.manager.ListCredentials(r.Context(), principal.ID)
	if err != nil {
		sendError(w, r, err)
		return
	}

	views := make([]credentialView, 0, len(credentials))
	for _, c := range credentials {
		views = append(views, viewOf(c))
	}
	sendJSON(w, http.StatusOK, views)
}

func (h *Handlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	id, err := credentialID(r)
	if err != nil {
		sendError(w, r, err)
		return
	}

	if err := h.manager.DeleteCredential(r.Context(), principal.ID, id); err != nil {
		sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetToken returns an access token valid for at least the requested window.
func (h *Handlers) GetToken(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	id, err := credentialID(r)
	if err != nil {
		sendError(w, r, err)
		return
	}

	window := h.config.DefaultExpiryWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err = oauth2.ParseWindow(raw)
		if err != nil {
			sendError(w, r, err)
			return
		}
	}

	credential, err := h.manager.GetPrincipalCredential(r.Context(), principal.ID, id, window)
	if err != nil {
		sendError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": credential.AccessToken,
		"token_type":   "Bearer",
		"expires_at":   credential.AccessTokenExpiry,
	})
}

func credentialID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError("invalid credential ID")
	}
	return id, nil
}
