package handlers

import (
	"net/http"
	"time"
)

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}

	if err := h.store.Health(); err != nil {
		health["status"] = "unhealthy"
		health["storage"] = err.Error()
		sendJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	health["storage"] = "ok"

	if h.breaker != nil {
		health["identity_provider"] = h.breaker.Snapshot()
		if h.breaker.Open() {
			health["status"] = "degraded"
		}
	}

	sendJSON(w, http.StatusOK, health)
}
