package health

import (
	"context"
	"log"
	"sync"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/notify"
)

// Monitor runs periodic health check passes across the fleet, persists the
// verdicts, and raises edge-triggered notifications when a target's failure
// streak crosses the threshold or when it recovers.
type Monitor struct {
	Checker          *Checker
	Notifier         notify.Notifier
	FailureThreshold int
}

func NewMonitor(checker *Checker, notifier notify.Notifier, failureThreshold int) *Monitor {
	if failureThreshold <= 0 {
		failureThreshold = 2
	}
	return &Monitor{
		Checker:          checker,
		Notifier:         notifier,
		FailureThreshold: failureThreshold,
	}
}

// CheckAll fans health checks out over all targets, joins them, and records
// each verdict. One target's failure never affects another's result.
func (m *Monitor) CheckAll(ctx context.Context) {
	targets, err := database.ListTargets()
	if err != nil {
		log.Printf("[health] list targets: %v", err)
		return
	}
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	results := make([]*CheckResult, len(targets))
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Checker.Check(ctx, &targets[i])
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		if err := m.record(res); err != nil {
			log.Printf("[health] record state for %s: %v", logutil.SanitizeForLog(res.TargetName), err)
		}
	}
}

// CheckOne runs a live health check against a single target and persists the
// verdict.
func (m *Monitor) CheckOne(ctx context.Context, t *database.Target) (*CheckResult, error) {
	res := m.Checker.Check(ctx, t)
	if err := m.record(res); err != nil {
		return nil, err
	}
	return res, nil
}

// record persists a check verdict and fires edge-triggered notifications:
// an alert when the consecutive-failure counter reaches the threshold for a
// target not yet notified about, and a recovery notice when an unhealthy
// target turns healthy again.
func (m *Monitor) record(res *CheckResult) error {
	state := &database.HealthState{
		TargetID:       res.TargetID,
		TargetName:     res.TargetName,
		Healthy:        res.Healthy,
		ShellOK:        res.ShellOK,
		ServiceRunning: res.ServiceRunning,
		URLReachable:   res.URLReachable,
		Version:        res.Version,
		Error:          res.Error,
	}

	stored, prevHealthy, err := database.UpsertHealthState(state)
	if err != nil {
		return err
	}
	if m.Notifier == nil {
		return nil
	}

	if !stored.Healthy && stored.ConsecutiveFailures >= m.FailureThreshold && !stored.Notified {
		m.Notifier.HealthChanged(stored.TargetID, stored.TargetName, false, stored.Error)
		if err := database.MarkNotified(stored.TargetID); err != nil {
			log.Printf("[health] mark notified for %s: %v", logutil.SanitizeForLog(stored.TargetName), err)
		}
	} else if stored.Healthy && !prevHealthy {
		m.Notifier.HealthChanged(stored.TargetID, stored.TargetName, true, "")
	}

	return nil
}
