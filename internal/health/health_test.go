package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/sshexec"
)

// fakeChannel answers commands by longest matching substring.
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

func fakeFactory(responses map[string]sshexec.Result) sshexec.Factory {
	return func(t *database.Target) sshexec.Channel {
		return &fakeChannel{responses: responses}
	}
}

func newTestChecker(responses map[string]sshexec.Result) *Checker {
	return NewChecker(fakeFactory(responses), "n8n", "n8n --version")
}

func TestCheckShellFailureShortCircuits(t *testing.T) {
	c := newTestChecker(map[string]sshexec.Result{
		"echo ping": {ExitCode: -1, Stderr: "connect to 10.0.0.1:22: timeout"},
	})

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod", URL: "https://n8n.example.com"})
	if res.Healthy || res.ShellOK {
		t.Errorf("verdict = %+v, want unhealthy with shell down", res)
	}
	if !strings.HasPrefix(res.Error, "ssh:") {
		t.Errorf("error = %q, want ssh-attributed", res.Error)
	}
	// Later probes must not have run.
	if res.ServiceRunning || res.URLReachable != nil || res.Version != "" {
		t.Errorf("later probes ran after shell failure: %+v", res)
	}
}

func TestCheckServiceDown(t *testing.T) {
	c := newTestChecker(map[string]sshexec.Result{
		"docker compose ps": {ExitCode: 1},
	})

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod"})
	if res.Healthy {
		t.Error("verdict healthy with service down")
	}
	if !res.ShellOK {
		t.Error("shell probe should have passed")
	}
	if !strings.Contains(res.Error, "not running") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestCheckHealthyWithoutURL(t *testing.T) {
	c := newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	})

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod"})
	if !res.Healthy {
		t.Fatalf("verdict = %+v, want healthy", res)
	}
	// No URL configured: the probe is not applicable, not failed.
	if res.URLReachable != nil {
		t.Errorf("URLReachable = %v, want nil", *res.URLReachable)
	}
	if res.Version != "1.70.0" {
		t.Errorf("version = %q", res.Version)
	}
}

func TestCheckURLProbe(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/rest/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	})
	c.HTTPClient = srv.Client()

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod", URL: srv.URL})
	if !res.Healthy {
		t.Fatalf("verdict = %+v, want healthy", res)
	}
	if res.URLReachable == nil || !*res.URLReachable {
		t.Error("URL should be reachable via fallback path")
	}
	if len(paths) < 2 {
		t.Errorf("expected fallback through liveness paths, got %v", paths)
	}
}

func TestCheckURLAllEndpointsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	})
	c.HTTPClient = srv.Client()

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod", URL: srv.URL})
	if res.Healthy {
		t.Error("verdict healthy with URL down")
	}
	if res.URLReachable == nil || *res.URLReachable {
		t.Error("URLReachable should be false")
	}
	if !strings.HasPrefix(res.Error, "url:") {
		t.Errorf("error = %q, want url-attributed", res.Error)
	}
	// A URL failure still reports the service itself as running.
	if !res.ServiceRunning {
		t.Error("service probe result lost")
	}
}

// Client errors (4xx) count as reachable: the service answered.
func TestCheckURLClientErrorIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestChecker(map[string]sshexec.Result{
		"docker ps --filter": {ExitCode: 0, Stdout: "n8nio/n8n:1.70.0\n"},
	})
	c.HTTPClient = srv.Client()

	res := c.Check(context.Background(), &database.Target{ID: 1, Name: "prod", URL: srv.URL})
	if !res.Healthy {
		t.Errorf("verdict = %+v, want healthy on 401", res)
	}
}
