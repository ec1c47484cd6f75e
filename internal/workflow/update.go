package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fleetup/fleetup/internal/compose"
	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/logutil"
	"github.com/fleetup/fleetup/internal/sshexec"
)

const updateTotalSteps = 8

// Command timeouts per stage kind. Pulls get the longest window since image
// downloads dominate update duration.
const (
	shortTimeout = 30 * time.Second
	stopTimeout  = 2 * time.Minute
	startTimeout = 2 * time.Minute
	pullTimeout  = 10 * time.Minute
	tarTimeout   = 5 * time.Minute
)

// Update runs the eight-stage update workflow against one target, pinning it
// to targetVersion ("latest" when empty). The only error returned is
// ErrTargetBusy; every other failure is folded into the result record.
func (e *Engine) Update(ctx context.Context, t *database.Target, targetVersion string, progress ProgressFunc) (*UpdateResult, error) {
	if !targetLocks.tryAcquire(t.ID) {
		return nil, ErrTargetBusy
	}
	defer targetLocks.release(t.ID)

	result := &UpdateResult{TargetID: t.ID, TargetName: t.Name}
	var notes []string

	defer e.finishUpdate(result, &notes)

	ch := e.Factory(t)
	defer ch.Close()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[update] %s: workflow panicked: %v", logutil.SanitizeForLog(t.Name), r)
			result.Success = false
			result.Message = fmt.Sprintf("update failed: %v", r)
			result.CanRollback = result.ConfigBackupPath != ""
		}
	}()

	if targetVersion == "" {
		targetVersion = "latest"
	}

	// Stage 1: capture current version (best effort, unknown is acceptable).
	report(progress, 1, updateTotalSteps, "Capturing current version...")
	oldVersion := sshexec.CurrentVersion(ctx, ch, t.ComposePath, e.Service, e.VersionCommand)
	result.OldVersion = oldVersion
	if oldVersion == "" {
		notes = append(notes, "Old version: unknown")
	} else {
		notes = append(notes, "Old version: "+oldVersion)
	}

	// Stage 2: snapshot data (best effort).
	report(progress, 2, updateTotalSteps, "Backing up data...")
	timestamp := e.remoteTimestamp(ctx, ch)
	backupDir := t.ComposePath + "/backups"
	ch.Execute(ctx, fmt.Sprintf("mkdir -p %s", backupDir), shortTimeout)

	dataDir := e.findDataDir(ctx, ch, t.ComposePath)
	if dataDir == "" {
		notes = append(notes, "No data dir found, skipping data backup")
	} else {
		dataBackup := fmt.Sprintf("%s/%s_data_%s.tar.gz", backupDir, e.Service, timestamp)
		res := ch.Execute(ctx, fmt.Sprintf("cd %s && tar -czf %s %s 2>/dev/null", t.ComposePath, dataBackup, dataDir), tarTimeout)
		if res.OK() {
			result.DataBackupPath = dataBackup
			notes = append(notes, "Data backup: "+dataBackup)
		} else {
			notes = append(notes, "Data backup failed (continuing anyway)")
			log.Printf("[update] %s: data backup failed: %s", logutil.SanitizeForLog(t.Name), logutil.Truncate(res.Stderr, 200))
		}
	}

	// Stage 3: snapshot configuration. Mandatory for rollback eligibility;
	// the attempt still proceeds without it.
	report(progress, 3, updateTotalSteps, "Backing up configuration...")
	configBackup := fmt.Sprintf("%s/docker-compose.yml.%s", backupDir, timestamp)
	res := ch.Execute(ctx, fmt.Sprintf("cd %s && cp docker-compose.yml %s", t.ComposePath, configBackup), shortTimeout)
	if res.OK() {
		result.ConfigBackupPath = configBackup
		notes = append(notes, "Config backup: "+configBackup)

		snapID, err := database.RecordSnapshot(&database.Snapshot{
			TargetID:   t.ID,
			TargetName: t.Name,
			ConfigPath: configBackup,
			DataPath:   result.DataBackupPath,
			Version:    oldVersion,
		})
		if err != nil {
			log.Printf("[update] %s: record snapshot: %v", logutil.SanitizeForLog(t.Name), err)
		} else {
			result.SnapshotID = snapID
		}
	} else {
		notes = append(notes, "Config backup failed, rollback will not be available")
	}

	// Stage 4: pin the image reference. One substitution rule covers every
	// accepted prior form; the result is verified by reading the file back.
	report(progress, 4, updateTotalSteps, "Pinning image reference...")
	expr := compose.RewriteExpr(e.Repo, e.Mirrors, targetVersion)
	ch.Execute(ctx, fmt.Sprintf("cd %s && sed -i.bak -E '%s' docker-compose.yml", t.ComposePath, expr), shortTimeout)

	res = ch.Execute(ctx, fmt.Sprintf("cd %s && cat docker-compose.yml", t.ComposePath), shortTimeout)
	if res.OK() {
		image, err := compose.ServiceImage([]byte(res.Stdout), e.Service)
		switch {
		case err != nil:
			notes = append(notes, "Rewrite verification failed: "+err.Error())
		case compose.ImageTag(image) != targetVersion:
			notes = append(notes, fmt.Sprintf("Rewrite verification: unexpected image %s", image))
		default:
			notes = append(notes, "Pinned image: "+image)
		}
	} else {
		notes = append(notes, "Rewrite verification failed: could not read compose file")
	}

	// Stage 5: pull the new image. Fatal on failure; the running instance
	// has not been touched yet.
	report(progress, 5, updateTotalSteps, "Pulling new image...")
	res = ch.Execute(ctx, fmt.Sprintf("docker pull %s:%s 2>&1", e.Repo, targetVersion), pullTimeout)
	if !res.OK() {
		log.Printf("[update] %s: direct pull failed: %s", logutil.SanitizeForLog(t.Name), logutil.Truncate(res.Output(), 200))
	}
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose pull 2>&1 || docker-compose pull 2>&1", t.ComposePath), pullTimeout)
	if !res.OK() {
		return e.fail(result, &notes, "pull failed", res.Output()), nil
	}
	notes = append(notes, "Image pulled successfully")

	// Stage 6: stop the running instance. Fatal on failure.
	report(progress, 6, updateTotalSteps, "Stopping containers...")
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose down 2>&1 || docker-compose down 2>&1", t.ComposePath), stopTimeout)
	if !res.OK() {
		return e.fail(result, &notes, "stop failed", res.Output()), nil
	}
	notes = append(notes, "Containers stopped")

	// Stage 7: start with the rewritten configuration. Fatal on failure.
	report(progress, 7, updateTotalSteps, "Starting containers...")
	res = ch.Execute(ctx, fmt.Sprintf("cd %s && docker compose up -d 2>&1 || docker-compose up -d 2>&1", t.ComposePath), startTimeout)
	if !res.OK() {
		return e.fail(result, &notes, "start failed", res.Output()), nil
	}
	notes = append(notes, "Containers started")

	// Stage 8: settle, then verify liveness and resolve the new version.
	report(progress, 8, updateTotalSteps, "Verifying...")
	e.settle(ctx)

	if !sshexec.ServiceRunning(ctx, ch, t.ComposePath, e.Service) {
		// Capture whatever version is visible for diagnostics.
		if v := sshexec.CurrentVersion(ctx, ch, t.ComposePath, e.Service, e.VersionCommand); v != "" {
			notes = append(notes, "Observed version after failed start: "+v)
		}
		return e.fail(result, &notes, "failed to start", ""), nil
	}

	newVersion := sshexec.CurrentVersion(ctx, ch, t.ComposePath, e.Service, e.VersionCommand)
	result.NewVersion = newVersion
	if newVersion == "" {
		notes = append(notes, "New version: unknown")
	} else {
		notes = append(notes, "New version: "+newVersion)
	}

	result.Success = true
	result.Message = "update completed successfully"
	result.CanRollback = false // a successful update never retains rollback eligibility

	if err := database.PruneSnapshots(t.ID, e.KeepBackups); err != nil {
		log.Printf("[update] %s: prune snapshots: %v", logutil.SanitizeForLog(t.Name), err)
	}

	return result, nil
}

// fail finalizes a fatal stage failure: snapshots are preserved and the
// result is rollback-eligible iff the configuration snapshot exists.
func (e *Engine) fail(result *UpdateResult, notes *[]string, message, output string) *UpdateResult {
	if output != "" {
		*notes = append(*notes, logutil.Truncate(output, 500))
	}
	result.Success = false
	result.Message = message
	result.CanRollback = result.ConfigBackupPath != ""
	return result
}

// finishUpdate assembles diagnostics, appends the history record, and
// reports the finished attempt. Runs on every exit path.
func (e *Engine) finishUpdate(result *UpdateResult, notes *[]string) {
	result.Details = strings.Join(*notes, "\n")

	if err := database.AppendHistory(&database.HistoryEntry{
		TargetID:   result.TargetID,
		TargetName: result.TargetName,
		Kind:       database.HistoryUpdate,
		OldVersion: result.OldVersion,
		NewVersion: result.NewVersion,
		Success:    result.Success,
		Message:    result.Message,
		Details:    result.Details,
	}); err != nil {
		log.Printf("[update] %s: append history: %v", logutil.SanitizeForLog(result.TargetName), err)
	}

	if e.Notifier != nil {
		e.Notifier.AttemptFinished(database.HistoryUpdate, result.TargetID, result.TargetName, result.Success, result.Message)
	}
}

// remoteTimestamp asks the target for its local time so backup paths sort by
// the host's clock. Falls back to a constant when the probe fails.
func (e *Engine) remoteTimestamp(ctx context.Context, ch sshexec.Channel) string {
	res := ch.Execute(ctx, "date +%Y%m%d_%H%M%S", 10*time.Second)
	if res.OK() && strings.TrimSpace(res.Stdout) != "" {
		return strings.TrimSpace(res.Stdout)
	}
	return "backup"
}

// findDataDir probes the conventional data directory candidates in order and
// returns the first that exists, or "".
func (e *Engine) findDataDir(ctx context.Context, ch sshexec.Channel, composePath string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cd %s && ", composePath)
	for i, dir := range e.DataDirs {
		if i == 0 {
			fmt.Fprintf(&b, "if [ -d \"%s\" ]; then echo \"%s\"; ", dir, dir)
		} else {
			fmt.Fprintf(&b, "elif [ -d \"%s\" ]; then echo \"%s\"; ", dir, dir)
		}
	}
	if len(e.DataDirs) == 0 {
		return ""
	}
	b.WriteString("else echo \"\"; fi")

	res := ch.Execute(ctx, b.String(), shortTimeout)
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// settle waits the fixed post-start interval, honoring cancellation.
func (e *Engine) settle(ctx context.Context) {
	if e.SettleWait <= 0 {
		return
	}
	timer := time.NewTimer(e.SettleWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
