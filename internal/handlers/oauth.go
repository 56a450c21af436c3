package handlers

import (
	"net/http"

	"token-broker/internal/common/errors"
)

// Callback receives the identity provider redirect.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		sendError(w, r, errors.ValidationError("authorization denied: "+providerErr))
		return
	}

	state := q.Get("state")
	if state == "" {
		sendError(w, r, errors.ValidationError("state is required"))
		return
	}

	if err := h.manager.CompleteAuthorization(r.Context(), state, q.Get("code"), h.config.ProviderVerifyURL); err != nil {
		sendError(w, r, err)
		return
	}

	sendJSON(w, http.StatusOK, map[string]bool{"completed": true})
}
