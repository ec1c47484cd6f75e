package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fleetup/fleetup/internal/database"
)

// Editable settings and their validators. Everything else in the settings
// table is internal state and not exposed for writing.
var editableSettings = map[string]func(string) bool{
	"check_interval_hours": isPositiveInt,
	"failure_threshold":    isPositiveInt,
	"backup_keep_count":    isPositiveInt,
}

func isPositiveInt(v string) bool {
	n, err := strconv.Atoi(v)
	return err == nil && n > 0
}

func GetSettings(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	for key := range editableSettings {
		if v, err := database.GetSetting(key); err == nil {
			out[key] = v
		}
	}
	if v, err := database.GetSetting("last_known_version"); err == nil {
		out["last_known_version"] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for key, value := range req {
		valid, ok := editableSettings[key]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown setting: "+key)
			return
		}
		if !valid(value) {
			writeError(w, http.StatusBadRequest, "invalid value for "+key)
			return
		}
	}

	for key, value := range req {
		if err := database.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save setting "+key)
			return
		}
	}
	GetSettings(w, r)
}
