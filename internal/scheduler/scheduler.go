// Package scheduler drives the periodic background work: health check passes
// over the fleet, registry version checks, and operator-scheduled one-shot
// updates.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/fleetup/fleetup/internal/config"
	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/health"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/notify"
	"github.com/fleetup/fleetup/internal/registry"
	"github.com/fleetup/fleetup/internal/workflow"
)

// Scheduler owns the cron runner and the set of pending one-shot update jobs.
type Scheduler struct {
	Monitor  *health.Monitor
	Engine   *workflow.Engine
	Registry *registry.Client
	Notifier notify.Notifier

	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*Job
}

// Job is a pending one-shot update scheduled by an operator.
type Job struct {
	ID         string    `json:"id"`
	TargetID   uint      `json:"target_id"`
	TargetName string    `json:"target_name"`
	Version    string    `json:"version"`
	RunAt      time.Time `json:"run_at"`

	timer *time.Timer
}

func New(monitor *health.Monitor, engine *workflow.Engine, reg *registry.Client, notifier notify.Notifier) *Scheduler {
	return &Scheduler{
		Monitor:  monitor,
		Engine:   engine,
		Registry: reg,
		Notifier: notifier,
		cron:     cron.New(),
		jobs:     make(map[string]*Job),
	}
}

// Start registers the recurring jobs and launches the cron runner. The health
// cadence comes from configuration; the version check cadence prefers the
// stored setting so operators can adjust it without a restart losing the
// value.
func (s *Scheduler) Start() error {
	healthSpec := "@every " + config.Cfg.HealthCheckInterval
	if _, err := s.cron.AddFunc(healthSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		s.Monitor.CheckAll(ctx)
	}); err != nil {
		return fmt.Errorf("schedule health checks: %w", err)
	}

	versionSpec := fmt.Sprintf("@every %dh", s.versionCheckHours())
	if _, err := s.cron.AddFunc(versionSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		s.CheckVersion(ctx)
	}); err != nil {
		return fmt.Errorf("schedule version checks: %w", err)
	}

	s.cron.Start()
	log.Printf("[scheduler] started: health %s, version check every %dh", healthSpec, s.versionCheckHours())
	return nil
}

// Stop halts the cron runner and cancels pending one-shot jobs. Jobs already
// running are left to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, id)
	}
}

func (s *Scheduler) versionCheckHours() int {
	if v, err := database.GetSetting("check_interval_hours"); err == nil && v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			return hours
		}
	}
	if config.Cfg.VersionCheckHours > 0 {
		return config.Cfg.VersionCheckHours
	}
	return 6
}

// CheckVersion resolves the latest published version and, when it is newer
// than the last announced one, notifies with the targets that are behind it.
// The announcement is deduplicated through the last_known_version setting.
func (s *Scheduler) CheckVersion(ctx context.Context) {
	latest, err := s.Registry.Latest(ctx)
	if err != nil {
		log.Printf("[scheduler] version check failed: %v", err)
		return
	}
	latestStr := latest.String()

	lastKnown, _ := database.GetSetting("last_known_version")
	if lastKnown != "" && registry.Compare(lastKnown, latestStr) >= 0 {
		return
	}

	behind := s.targetsBehind(latestStr)
	log.Printf("[scheduler] new version %s available (%d target(s) behind)", latestStr, len(behind))
	if s.Notifier != nil {
		s.Notifier.NewVersionAvailable(latestStr, behind)
	}

	if err := database.SetSetting("last_known_version", latestStr); err != nil {
		log.Printf("[scheduler] store last known version: %v", err)
	}
}

// targetsBehind lists the names of targets whose last observed version is
// older than latest. Targets with no observed version count as behind.
func (s *Scheduler) targetsBehind(latest string) []string {
	states, err := database.ListHealthStates()
	if err != nil {
		log.Printf("[scheduler] list health states: %v", err)
		return nil
	}

	var behind []string
	for _, st := range states {
		if st.Version == "" || registry.Compare(st.Version, latest) < 0 {
			behind = append(behind, st.TargetName)
		}
	}
	sort.Strings(behind)
	return behind
}

// ScheduleUpdate queues a one-shot update of one target at the given time and
// returns the job id. The job is held in memory only; a restart drops it.
func (s *Scheduler) ScheduleUpdate(t *database.Target, version string, runAt time.Time) (*Job, error) {
	delay := time.Until(runAt)
	if delay <= 0 {
		return nil, fmt.Errorf("scheduled time %s is in the past", runAt.Format(time.RFC3339))
	}

	job := &Job{
		ID:         uuid.NewString(),
		TargetID:   t.ID,
		TargetName: t.Name,
		Version:    version,
		RunAt:      runAt,
	}

	s.mu.Lock()
	job.timer = time.AfterFunc(delay, func() { s.runJob(job) })
	s.jobs[job.ID] = job
	s.mu.Unlock()

	log.Printf("[scheduler] update of %s to %q scheduled for %s (job %s)",
		logutil.SanitizeForLog(t.Name), job.Version, runAt.Format(time.RFC3339), job.ID)
	return job, nil
}

func (s *Scheduler) runJob(job *Job) {
	s.mu.Lock()
	delete(s.jobs, job.ID)
	s.mu.Unlock()

	target, err := database.GetTarget(job.TargetID)
	if err != nil {
		log.Printf("[scheduler] job %s: target %d no longer exists", job.ID, job.TargetID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := s.Engine.Update(ctx, target, job.Version, nil)
	if err != nil {
		log.Printf("[scheduler] job %s: %v", job.ID, err)
		return
	}
	log.Printf("[scheduler] job %s finished: success=%v %s", job.ID, result.Success, logutil.SanitizeForLog(result.Message))
}

// Cancel removes a pending one-shot job. Returns false when the job is
// unknown or has already fired.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	job.timer.Stop()
	delete(s.jobs, id)
	return true
}

// List returns the pending one-shot jobs ordered by run time.
func (s *Scheduler) List() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	return jobs
}
