package health

import (
	"context"
	"sync"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/sshexec"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.Target{}, &database.HealthState{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) AttemptFinished(kind string, targetID uint, targetName string, success bool, message string) {
}

func (n *recordingNotifier) HealthChanged(targetID uint, targetName string, healthy bool, errMsg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if healthy {
		n.events = append(n.events, targetName+":recovered")
	} else {
		n.events = append(n.events, targetName+":unhealthy")
	}
}

func (n *recordingNotifier) NewVersionAvailable(version string, targets []string) {}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func TestMonitorAlertsAtThresholdOnce(t *testing.T) {
	setupTestDB(t)
	notifier := &recordingNotifier{}

	checker := newTestChecker(map[string]sshexec.Result{
		"echo ping": {ExitCode: -1, Stderr: "down"},
	})
	m := NewMonitor(checker, notifier, 2)
	target := &database.Target{ID: 1, Name: "prod"}

	// First failure: below threshold, no alert.
	if _, err := m.CheckOne(context.Background(), target); err != nil {
		t.Fatalf("CheckOne: %v", err)
	}
	if len(notifier.all()) != 0 {
		t.Fatalf("alert fired below threshold: %v", notifier.all())
	}

	// Second failure crosses the threshold.
	m.CheckOne(context.Background(), target)
	if got := notifier.all(); len(got) != 1 || got[0] != "prod:unhealthy" {
		t.Fatalf("events = %v, want one unhealthy alert", got)
	}

	// Third failure: already notified, no duplicate.
	m.CheckOne(context.Background(), target)
	if got := notifier.all(); len(got) != 1 {
		t.Fatalf("duplicate alert fired: %v", got)
	}
}

func TestMonitorRecoveryNotice(t *testing.T) {
	setupTestDB(t)
	notifier := &recordingNotifier{}
	target := &database.Target{ID: 1, Name: "prod"}

	failing := NewMonitor(newTestChecker(map[string]sshexec.Result{
		"echo ping": {ExitCode: -1, Stderr: "down"},
	}), notifier, 2)
	failing.CheckOne(context.Background(), target)
	failing.CheckOne(context.Background(), target)

	healthy := NewMonitor(newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	}), notifier, 2)
	healthy.CheckOne(context.Background(), target)

	got := notifier.all()
	if len(got) != 2 || got[1] != "prod:recovered" {
		t.Fatalf("events = %v, want unhealthy then recovered", got)
	}

	// A healthy target staying healthy produces no further notices.
	healthy.CheckOne(context.Background(), target)
	if len(notifier.all()) != 2 {
		t.Fatalf("spurious recovery notice: %v", notifier.all())
	}
}

func TestCheckAllRecordsEveryTarget(t *testing.T) {
	setupTestDB(t)

	targets := []database.Target{
		{Name: "a", Host: "10.0.0.1", AuthType: database.AuthTypeKey, KeyPath: "/id", ComposePath: "/opt/n8n"},
		{Name: "b", Host: "10.0.0.2", AuthType: database.AuthTypeKey, KeyPath: "/id", ComposePath: "/opt/n8n"},
	}
	for i := range targets {
		if err := database.CreateTarget(&targets[i]); err != nil {
			t.Fatalf("CreateTarget: %v", err)
		}
	}

	m := NewMonitor(newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	}), nil, 2)
	m.CheckAll(context.Background())

	states, err := database.ListHealthStates()
	if err != nil {
		t.Fatalf("ListHealthStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states, want 2", len(states))
	}
	for _, st := range states {
		if !st.Healthy {
			t.Errorf("target %s not recorded healthy", st.TargetName)
		}
	}
}
