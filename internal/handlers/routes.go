package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the API on router. Everything under /api needs a
// bearer token; the provider callback and health check do not.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/oauth/callback", h.Callback).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(h.auth.RequireAuth)
	api.HandleFunc("/credentials/authorize", h.Authorize).Methods(http.MethodPost)
	api.HandleFunc("/credentials", h.ListCredentials).Methods(http.MethodGet)
	api.HandleFunc("/credentials/{id:[0-9]+}", h.DeleteCredential).Methods(http.MethodDelete)
	api.HandleFunc("/credentials/{id:[0-9]+}/token", h.GetToken).Methods(http.MethodGet)
}
