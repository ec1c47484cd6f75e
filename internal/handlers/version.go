package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/registry"
)

// GetLatestVersion resolves the current stable version from the registry and
// includes each target's last observed version for comparison.
func GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	latest, err := Registry.Latest(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to resolve latest version")
		return
	}
	latestStr := latest.String()

	type targetVersion struct {
		TargetID     uint   `json:"target_id"`
		TargetName   string `json:"target_name"`
		Version      string `json:"version"`
		UpdateNeeded bool   `json:"update_needed"`
	}

	var versions []targetVersion
	states, err := database.ListHealthStates()
	if err == nil {
		for _, st := range states {
			versions = append(versions, targetVersion{
				TargetID:     st.TargetID,
				TargetName:   st.TargetName,
				Version:      st.Version,
				UpdateNeeded: st.Version == "" || registry.Compare(st.Version, latestStr) < 0,
			})
		}
	}
	if versions == nil {
		versions = []targetVersion{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"latest":     latestStr,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"targets":    versions,
	})
}

// ListVersions returns recent published versions, newest first. Optional
// query parameter: limit (default 20).
func ListVersions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	tags, err := Registry.Tags(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to list versions")
		return
	}

	versions := make([]string, 0, len(tags))
	for _, t := range tags {
		versions = append(versions, t.Version.String())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

// GetChangelog returns the cleaned release notes for one version.
func GetChangelog(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if _, ok := registry.Parse(version); !ok {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}

	release, err := Registry.Changelog(r.Context(), version)
	if err != nil {
		if errors.Is(err, registry.ErrReleaseNotFound) {
			writeError(w, http.StatusNotFound, "no release notes for this version")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to fetch release notes")
		return
	}
	writeJSON(w, http.StatusOK, release)
}
