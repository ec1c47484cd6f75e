package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/workflow"
)

const workflowTimeout = 30 * time.Minute

type updateRequest struct {
	Version string `json:"version"` // empty means latest
}

type rollbackRequest struct {
	SnapshotID uint `json:"snapshot_id"` // 0 means most recent unconsumed
}

// StartUpdate launches an update workflow for one target in the background
// and returns immediately. Progress is streamed over the events websocket;
// the outcome lands in history.
func StartUpdate(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}

	var req updateRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	go func(t *database.Target, version string) {
		ctx, cancel := context.WithTimeout(context.Background(), workflowTimeout)
		defer cancel()

		result, err := Engine.Update(ctx, t, version, progressPublisher(t))
		if err != nil {
			if errors.Is(err, workflow.ErrTargetBusy) {
				log.Printf("Update of %s skipped: %v", logutil.SanitizeForLog(t.Name), err)
			}
			return
		}
		Events.Publish(Event{
			Type:       "update_finished",
			TargetID:   t.ID,
			TargetName: t.Name,
			Message:    result.Message,
			Success:    &result.Success,
		})
	}(target, req.Version)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "started",
		"target_id": target.ID,
		"version":   req.Version,
	})
}

// StartRollback launches a rollback workflow for one target in the
// background. Without an explicit snapshot id the most recent unconsumed
// snapshot is used.
func StartRollback(w http.ResponseWriter, r *http.Request) {
	target := targetFromRequest(w, r)
	if target == nil {
		return
	}

	var req rollbackRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	var snap *database.Snapshot
	var err error
	if req.SnapshotID != 0 {
		snap, err = database.GetSnapshot(req.SnapshotID)
		if err == nil && snap.TargetID != target.ID {
			writeError(w, http.StatusBadRequest, "snapshot belongs to a different target")
			return
		}
	} else {
		snap, err = database.LatestUnusedSnapshot(target.ID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "no snapshot available for rollback")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	go func(t *database.Target, s *database.Snapshot) {
		ctx, cancel := context.WithTimeout(context.Background(), workflowTimeout)
		defer cancel()

		result, err := Engine.Rollback(ctx, t, s, progressPublisher(t))
		if err != nil {
			if errors.Is(err, workflow.ErrTargetBusy) {
				log.Printf("Rollback of %s skipped: %v", logutil.SanitizeForLog(t.Name), err)
			}
			return
		}
		Events.Publish(Event{
			Type:       "rollback_finished",
			TargetID:   t.ID,
			TargetName: t.Name,
			Message:    result.Message,
			Success:    &result.Success,
		})
	}(target, snap)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":      "started",
		"target_id":   target.ID,
		"snapshot_id": snap.ID,
	})
}

// progressPublisher bridges workflow progress callbacks to the event broker.
func progressPublisher(t *database.Target) workflow.ProgressFunc {
	return func(step, total int, message string) {
		Events.Publish(Event{
			Type:       "progress",
			TargetID:   t.ID,
			TargetName: t.Name,
			Step:       step,
			Total:      total,
			Message:    message,
		})
	}
}

// ListTargetSnapshots returns a target's snapshots, newest first.
func ListTargetSnapshots(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	snaps, err := database.ListSnapshots(uint(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	if snaps == nil {
		snaps = []database.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
