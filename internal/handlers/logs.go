package handlers

import (
	"net/http"
	"strconv"

	"github.com/fleetup/fleetup/internal/logging"
)

// GetServerLogs returns the tail of the process log file. Optional query
// parameter: lines (default 200, max 2000).
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if v := r.URL.Query().Get("lines"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			lines = n
		}
	}
	if lines > 2000 {
		lines = 2000
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
