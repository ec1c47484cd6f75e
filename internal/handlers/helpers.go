package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/health"
	"github.com/fleetup/fleetup/internal/registry"
	"github.com/fleetup/fleetup/internal/scheduler"
	"github.com/fleetup/fleetup/internal/workflow"
)

// Package-level collaborators, wired once at startup from main.
var (
	Engine   *workflow.Engine
	Monitor  *health.Monitor
	Sched    *scheduler.Scheduler
	Registry *registry.Client
	Events   *EventBroker
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// targetFromRequest resolves the {id} route parameter to a stored target.
// Writes the error response itself and returns nil on failure.
func targetFromRequest(w http.ResponseWriter, r *http.Request) *database.Target {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return nil
	}
	target, err := database.GetTarget(uint(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return nil
	}
	return target
}
