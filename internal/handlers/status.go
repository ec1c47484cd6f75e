package handlers

import (
	"net/http"

	"github.com/fleetup/fleetup/internal/database"
)

// HealthCheck is the unauthenticated liveness endpoint for the service
// itself.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetFleetStatus returns the last recorded health verdict for every target.
func GetFleetStatus(w http.ResponseWriter, r *http.Request) {
	states, err := database.ListHealthStates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list health states")
		return
	}
	if states == nil {
		states = []database.HealthState{}
	}
	writeJSON(w, http.StatusOK, states)
}

// GetTargetStatus runs a live health check against one target and returns the
// fresh verdict. The stored state is updated as a side effect.
func GetTargetStatus(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}

	result, err := Monitor.CheckOne(r.Context(), target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record health state")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
