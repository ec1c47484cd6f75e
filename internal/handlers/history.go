package handlers

import (
	"net/http"
	"strconv"

	"github.com/fleetup/fleetup/internal/database"
)

// ListHistory returns recent update and rollback attempts, newest first.
// Optional query parameters: limit (default 20), target_id.
func ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	var targetID uint
	if v := r.URL.Query().Get("target_id"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			targetID = uint(n)
		}
	}

	entries, err := database.ListHistory(limit, targetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if entries == nil {
		entries = []database.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
