// Package health classifies the state of a target from three independent
// probes: shell reachability over SSH, liveness of the managed compose
// service, and reachability of the externally configured URL. One check is a
// single pass with no internal retries — the monitoring cadence provides
// retry.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/sshexec"
)

// livenessPaths are tried in order against the target URL; the probe passes
// on the first non-server-error response.
var livenessPaths = []string{"/healthz", "/rest/health", "/"}

const urlProbeTimeout = 10 * time.Second

// CheckResult is the verdict of one health check pass.
type CheckResult struct {
	TargetID       uint   `json:"target_id"`
	TargetName     string `json:"target_name"`
	Healthy        bool   `json:"healthy"`
	ShellOK        bool   `json:"shell_ok"`
	ServiceRunning bool   `json:"service_running"`
	URLReachable   *bool  `json:"url_reachable"` // nil when the target has no URL
	Version        string `json:"version,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Checker runs health check passes against targets.
type Checker struct {
	Factory        sshexec.Factory
	Service        string
	VersionCommand string

	// HTTPClient performs URL probes. Certificate verification is disabled
	// because managed instances commonly sit behind self-signed TLS.
	HTTPClient *http.Client
}

func NewChecker(factory sshexec.Factory, service, versionCommand string) *Checker {
	return &Checker{
		Factory:        factory,
		Service:        service,
		VersionCommand: versionCommand,
		HTTPClient: &http.Client{
			Timeout: urlProbeTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Check runs the probe chain against one target. A shell failure
// short-circuits the remaining probes; a liveness failure still records that
// the shell was reachable. The URL probe is "not applicable" (nil) when the
// target has no URL and then does not affect the overall verdict.
func (c *Checker) Check(ctx context.Context, t *database.Target) *CheckResult {
	result := &CheckResult{
		TargetID:   t.ID,
		TargetName: t.Name,
	}

	ch := c.Factory(t)
	defer ch.Close()

	ok, msg := sshexec.TestConnection(ctx, ch)
	result.ShellOK = ok
	if !ok {
		result.Error = fmt.Sprintf("ssh: %s", msg)
		return result
	}

	result.ServiceRunning = sshexec.ServiceRunning(ctx, ch, t.ComposePath, c.Service)
	if !result.ServiceRunning {
		result.Error = fmt.Sprintf("%s container is not running", c.Service)
		return result
	}

	result.Version = sshexec.CurrentVersion(ctx, ch, t.ComposePath, c.Service, c.VersionCommand)

	if t.URL != "" {
		reachable, urlErr := c.probeURL(ctx, t.URL)
		result.URLReachable = &reachable
		if !reachable {
			result.Error = fmt.Sprintf("url: %s", urlErr)
			return result
		}
	}

	result.Healthy = true
	return result
}

// probeURL tries the well-known liveness paths against the target URL. Any
// response below 500 counts as reachable.
func (c *Checker) probeURL(ctx context.Context, url string) (bool, string) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	url = strings.TrimRight(url, "/")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	for _, path := range livenessPaths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+path, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 500 {
			return true, ""
		}
	}
	return false, "all liveness endpoints failed"
}
