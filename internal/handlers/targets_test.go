package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fleetup/fleetup/internal/crypto"
	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/sshexec"
	"github.com/fleetup/fleetup/internal/workflow"
)

// setupTest creates a fresh in-memory database and wires the handler
// collaborators with a fake command channel.
func setupTest(t *testing.T, responses map[string]sshexec.Result) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&database.Target{}, &database.Snapshot{}, &database.HealthState{}, &database.HistoryEntry{}, &database.Setting{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	database.DB = db

	Engine = &workflow.Engine{
		Factory: func(tg *database.Target) sshexec.Channel {
			return &fakeChannel{responses: responses}
		},
		Service:        "n8n",
		VersionCommand: "n8n --version",
		Repo:           "n8nio/n8n",
		KeepBackups:    3,
	}
	Events = NewEventBroker()
}

type fakeChannel struct {
	responses map[string]sshexec.Result
}

func (f *fakeChannel) Execute(ctx context.Context, command string, timeout time.Duration) sshexec.Result {
	var best string
	for substr := range f.responses {
		if strings.Contains(command, substr) && len(substr) > len(best) {
			best = substr
		}
	}
	if best != "" {
		return f.responses[best]
	}
	return sshexec.Result{ExitCode: 0}
}

func (f *fakeChannel) Close() {}

func testRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/api/v1/targets", ListTargets)
	r.Post("/api/v1/targets", CreateTarget)
	r.Get("/api/v1/targets/{id}", GetTarget)
	r.Put("/api/v1/targets/{id}", UpdateTarget)
	r.Delete("/api/v1/targets/{id}", DeleteTarget)
	r.Get("/api/v1/targets/{id}/ssh-test", SSHConnectionTest)
	r.Post("/api/v1/targets/{id}/rollback", StartRollback)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateTargetEncryptsPassword(t *testing.T) {
	setupTest(t, nil)
	r := testRouter()

	password := "secret-password"
	rec := doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name":         "prod",
		"host":         "10.0.0.1",
		"auth_type":    "password",
		"password":     password,
		"compose_path": "/opt/n8n",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp targetResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Port != 22 || resp.User != "root" {
		t.Errorf("defaults not applied: %+v", resp)
	}
	if strings.Contains(resp.Password, password) {
		t.Errorf("plaintext password in response: %q", resp.Password)
	}
	if !strings.HasPrefix(resp.Password, "****") {
		t.Errorf("password not masked: %q", resp.Password)
	}

	stored, err := database.GetTarget(resp.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if stored.Password == password {
		t.Error("password stored in plaintext")
	}
	plain, err := crypto.Decrypt(stored.Password)
	if err != nil || plain != password {
		t.Errorf("decrypt round trip failed: %q, %v", plain, err)
	}
}

func TestCreateTargetValidation(t *testing.T) {
	setupTest(t, nil)
	r := testRouter()

	// Missing host.
	rec := doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name": "prod", "auth_type": "key", "key_path": "/id", "compose_path": "/opt/n8n",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing host: status = %d", rec.Code)
	}

	// Key auth without a key path.
	rec = doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name": "prod", "host": "10.0.0.1", "auth_type": "key", "compose_path": "/opt/n8n",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("credential conflict: status = %d", rec.Code)
	}

	// Duplicate name.
	payload := map[string]interface{}{
		"name": "prod", "host": "10.0.0.1", "auth_type": "key", "key_path": "/id", "compose_path": "/opt/n8n",
	}
	if rec := doJSON(t, r, http.MethodPost, "/api/v1/targets", payload); rec.Code != http.StatusCreated {
		t.Fatalf("first create: %d", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodPost, "/api/v1/targets", payload); rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: status = %d", rec.Code)
	}
}

func TestUpdateTargetKeepsPasswordWhenOmitted(t *testing.T) {
	setupTest(t, nil)
	r := testRouter()

	rec := doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name": "prod", "host": "10.0.0.1", "auth_type": "password", "password": "secret", "compose_path": "/opt/n8n",
	})
	var created targetResponse
	json.Unmarshal(rec.Body.Bytes(), &created)

	rec = doJSON(t, r, http.MethodPut, "/api/v1/targets/1", map[string]interface{}{
		"host": "10.0.0.2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}

	stored, _ := database.GetTarget(created.ID)
	if stored.Host != "10.0.0.2" {
		t.Errorf("host not updated: %q", stored.Host)
	}
	plain, err := crypto.Decrypt(stored.Password)
	if err != nil || plain != "secret" {
		t.Errorf("password lost on update: %q, %v", plain, err)
	}
}

func TestGetTargetNotFound(t *testing.T) {
	setupTest(t, nil)
	r := testRouter()

	if rec := doJSON(t, r, http.MethodGet, "/api/v1/targets/99", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := doJSON(t, r, http.MethodGet, "/api/v1/targets/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSSHConnectionTest(t *testing.T) {
	setupTest(t, map[string]sshexec.Result{
		"echo ping": {ExitCode: 0, Stdout: "ping\n"},
	})
	r := testRouter()

	doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name": "prod", "host": "10.0.0.1", "auth_type": "key", "key_path": "/id", "compose_path": "/opt/n8n",
	})

	rec := doJSON(t, r, http.MethodGet, "/api/v1/targets/1/ssh-test", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["success"] != true {
		t.Errorf("response = %v", resp)
	}
}

func TestStartRollbackWithoutSnapshot(t *testing.T) {
	setupTest(t, nil)
	r := testRouter()

	doJSON(t, r, http.MethodPost, "/api/v1/targets", map[string]interface{}{
		"name": "prod", "host": "10.0.0.1", "auth_type": "key", "key_path": "/id", "compose_path": "/opt/n8n",
	})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/targets/1/rollback", map[string]interface{}{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 with no snapshot", rec.Code)
	}
}
