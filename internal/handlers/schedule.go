package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/scheduler"
)

type scheduleRequest struct {
	TargetID uint   `json:"target_id"`
	Version  string `json:"version"`
	RunAt    string `json:"run_at"` // RFC 3339
}

// CreateSchedule queues a one-shot update of a target at a future time.
func CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := database.GetTarget(req.TargetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	runAt, err := time.Parse(time.RFC3339, req.RunAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "run_at must be RFC 3339")
		return
	}

	job, err := Sched.ScheduleUpdate(target, req.Version, runAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListSchedules returns the pending one-shot update jobs.
func ListSchedules(w http.ResponseWriter, r *http.Request) {
	jobs := Sched.List()
	if jobs == nil {
		jobs = []*scheduler.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CancelSchedule removes a pending one-shot job.
func CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if !Sched.Cancel(id) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
