package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/sshexec"
)

const rollbackTotalSteps = 6

// Rollback restores a target from a snapshot: stop, restore configuration,
// restore data when the snapshot carries any, pull, start, verify. The
// snapshot is marked consumed whether or not the rollback succeeds — a
// rollback attempt spends its snapshot. The only error returned is
// ErrTargetBusy.
func (e *Engine) Rollback(ctx context.Context, t *database.Target, snap *database.Snapshot, progress ProgressFunc) (*RollbackResult, error) {
	if !targetLocks.tryAcquire(t.ID) {
		return nil, ErrTargetBusy
	}
	defer targetLocks.release(t.ID)

	result := &RollbackResult{TargetID: t.ID, TargetName: t.Name}
	var notes []string

	defer e.finishRollback(result, &notes, snap.ID)

	ch := e.Factory(t)
	defer ch.Close()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[rollback] %s: workflow panicked: %v", logutil.SanitizeForLog(t.Name), r)
			result.Success = false
			result.Message = fmt.Sprintf("rollback failed: %v", r)
		}
	}()

	notes = append(notes, "Restoring from snapshot: "+snap.ConfigPath)
	if snap.Version != "" {
		notes = append(notes, "Snapshot version: "+snap.Version)
	}

	// Stage 1: stop whatever is running. Fatal on failure.
	report(progress, 1, rollbackTotalSteps, "Stopping containers...")
	res := ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose down 2>&1 || docker-compose down 2>&1", t.ComposePath), stopTimeout)
	if !res.OK() {
		return e.failRollback(result, &notes, "stop failed", res.Output()), nil
	}
	notes = append(notes, "Containers stopped")

	// Stage 2: restore the configuration snapshot. Fatal — without it the
	// rollback has nothing to roll back to.
	report(progress, 2, rollbackTotalSteps, "Restoring configuration...")
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && cp %s docker-compose.yml", t.ComposePath, snap.ConfigPath), shortTimeout)
	if !res.OK() {
		return e.failRollback(result, &notes, "config restore failed", res.Output()), nil
	}
	notes = append(notes, "Configuration restored")

	// Stage 3: restore data when the snapshot has a data archive. Best
	// effort — a missing or damaged archive degrades to a config-only
	// rollback instead of aborting.
	report(progress, 3, rollbackTotalSteps, "Restoring data...")
	if snap.DataPath == "" {
		notes = append(notes, "Snapshot has no data archive, skipping data restore")
	} else {
		res = ch.Execute(ctx, fmt.Sprintf("test -f %s", snap.DataPath), shortTimeout)
		if !res.OK() {
			notes = append(notes, "Data archive missing, skipping data restore")
		} else {
			res = ch.Execute(ctx, fmt.Sprintf("cd %s && tar -xzf %s 2>&1", t.ComposePath, snap.DataPath), tarTimeout)
			if res.OK() {
				notes = append(notes, "Data restored from "+snap.DataPath)
			} else {
				notes = append(notes, "Data restore failed (continuing with config-only rollback)")
				log.Printf("[rollback] %s: data restore failed: %s", logutil.SanitizeForLog(t.Name), logutil.Truncate(res.Output(), 200))
			}
		}
	}

	// Stage 4: pull the restored image reference. Best effort — the image
	// is usually still present locally.
	report(progress, 4, rollbackTotalSteps, "Pulling restored image...")
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose pull 2>&1 || docker-compose pull 2>&1", t.ComposePath), pullTimeout)
	if !res.OK() {
		notes = append(notes, "Pull failed, starting with locally cached image")
	}

	// Stage 5: start from the restored configuration. Fatal on failure.
	report(progress, 5, rollbackTotalSteps, "Starting containers...")
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose up -d 2>&1 || docker-compose up -d 2>&1", t.ComposePath), startTimeout)
	if !res.OK() {
		return e.failRollback(result, &notes, "start failed", res.Output()), nil
	}
	notes = append(notes, "Containers started")

	// Stage 6: settle, then verify liveness and resolve the restored version.
	report(progress, 6, rollbackTotalSteps, "Verifying...")
	e.settle(ctx)

	if !sshexec.ServiceRunning(ctx, ch, t.ComposePath, e.Service) {
		return e.failRollback(result, &notes, "failed to start", ""), nil
	}

	restored := sshexec.CurrentVersion(ctx, ch, t.ComposePath, e.Service, e.VersionCommand)
	result.RestoredVersion = restored
	if restored == "" {
		notes = append(notes, "Restored version: unknown")
	} else {
		notes = append(notes, "Restored version: "+restored)
	}

	result.Success = true
	result.Message = "rollback completed successfully"
	return result, nil
}

func (e *Engine) failRollback(result *RollbackResult, notes *[]string, message, output string) *RollbackResult {
	if output != "" {
		*notes = append(*notes, logutil.Truncate(output, 500))
	}
	result.Success = false
	result.Message = message
	return result
}

// finishRollback spends the snapshot, assembles diagnostics, appends the
// history record, and reports the finished attempt. Runs on every exit path.
func (e *Engine) finishRollback(result *RollbackResult, notes *[]string, snapshotID uint) {
	result.Details = strings.Join(*notes, "\n")

	if err := database.MarkSnapshotConsumed(snapshotID); err != nil {
		log.Printf("[rollback] %s: mark snapshot consumed: %v", logutil.SanitizeForLog(result.TargetName), err)
	}

	if err := database.AppendHistory(&database.HistoryEntry{
		TargetID:   result.TargetID,
		TargetName: result.TargetName,
		Kind:       database.HistoryRollback,
		NewVersion: result.RestoredVersion,
		Success:    result.Success,
		Message:    result.Message,
		Details:    result.Details,
	}); err != nil {
		log.Printf("[rollback] %s: append history: %v", logutil.SanitizeForLog(result.TargetName), err)
	}

	if e.Notifier != nil {
		e.Notifier.AttemptFinished(database.HistoryRollback, result.TargetID, result.TargetName, result.Success, result.Message)
	}
}
