// Package workflow implements the remote update and rollback state machines.
//
// Both workflows run a fixed ordered sequence of stages against one target
// over a single command-channel handle that is closed on every exit path.
// Stage failures are funneled into a terminal result record — the caller
// never handles transport or command errors directly. Mutating stages (pull,
// stop, start) are fatal on failure; snapshot and verification stages are
// best-effort and record a diagnostic note instead.
package workflow

import (
	"log"
	"time"

	"github.com/fleetup/fleetup/internal/config"
	"github.com/fleetup/fleetup/internal/notify"
	"github.com/fleetup/fleetup/internal/sshexec"
)

// ProgressFunc observes stage transitions: (step, totalSteps, description).
// Advisory only — a failing observer never blocks or alters the workflow.
type ProgressFunc func(step, total int, message string)

// UpdateResult is the immutable outcome of one update attempt.
type UpdateResult struct {
	TargetID         uint   `json:"target_id"`
	TargetName       string `json:"target_name"`
	Success          bool   `json:"success"`
	OldVersion       string `json:"old_version,omitempty"`
	NewVersion       string `json:"new_version,omitempty"`
	Message          string `json:"message"`
	Details          string `json:"details,omitempty"`
	SnapshotID       uint   `json:"snapshot_id,omitempty"`
	ConfigBackupPath string `json:"config_backup_path,omitempty"`
	DataBackupPath   string `json:"data_backup_path,omitempty"`
	CanRollback      bool   `json:"can_rollback"`
}

// RollbackResult is the immutable outcome of one rollback attempt.
type RollbackResult struct {
	TargetID        uint   `json:"target_id"`
	TargetName      string `json:"target_name"`
	Success         bool   `json:"success"`
	RestoredVersion string `json:"restored_version,omitempty"`
	Message         string `json:"message"`
	Details         string `json:"details,omitempty"`
}

// Engine runs update and rollback workflows. Collaborators are injected so
// tests can substitute fake channels and notifiers.
type Engine struct {
	Factory  sshexec.Factory
	Notifier notify.Notifier

	Service        string
	VersionCommand string
	Repo           string
	Mirrors        []string
	DataDirs       []string
	SettleWait     time.Duration
	KeepBackups    int
}

// NewEngine builds an Engine from the loaded configuration.
func NewEngine(factory sshexec.Factory, notifier notify.Notifier) *Engine {
	return &Engine{
		Factory:        factory,
		Notifier:       notifier,
		Service:        config.Cfg.ServiceName,
		VersionCommand: config.Cfg.VersionCommand,
		Repo:           config.Cfg.ImageRepo,
		Mirrors:        config.Cfg.ImageMirrors,
		DataDirs:       config.Cfg.DataDirs,
		SettleWait:     time.Duration(config.Cfg.SettleWaitSeconds) * time.Second,
		KeepBackups:    config.Cfg.BackupKeepCount,
	}
}

// report invokes the progress observer, isolating the workflow from observer
// panics.
func report(progress ProgressFunc, step, total int, message string) {
	if progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[workflow] progress observer panicked: %v", r)
		}
	}()
	progress(step, total, message)
}
