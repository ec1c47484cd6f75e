package sshexec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fleetup/fleetup/internal/registry"
)

// Probe commands run with short timeouts so a dead target fails fast instead
// of holding a workflow for the full command timeout.
const (
	probeTimeout   = 30 * time.Second
	versionTimeout = 30 * time.Second
)

// TestConnection verifies the target's shell is reachable by running a
// trivial command. Returns ok and a human-readable message on failure.
func TestConnection(ctx context.Context, ch Channel) (bool, string) {
	res := ch.Execute(ctx, "echo ping", probeTimeout)
	if res.OK() {
		return true, "connection successful"
	}
	return false, fmt.Sprintf("command failed: %s", strings.TrimSpace(res.Stderr))
}

// DockerInstalled checks that Docker is installed and accessible.
func DockerInstalled(ctx context.Context, ch Channel) bool {
	return ch.Execute(ctx, "docker --version", 10*time.Second).OK()
}

// PathExists checks that a directory exists on the target.
func PathExists(ctx context.Context, ch Channel, path string) bool {
	return ch.Execute(ctx, fmt.Sprintf("test -d %s", path), 10*time.Second).OK()
}

// ServiceRunning checks whether the managed compose service is up. Both the
// plugin and standalone compose binaries are tried, matching whichever the
// host has installed.
func ServiceRunning(ctx context.Context, ch Channel, composePath, service string) bool {
	cmd := fmt.Sprintf(
		"cd %s && docker compose ps --status running 2>/dev/null | grep -q %s || docker-compose ps 2>/dev/null | grep -q 'Up'",
		composePath, service)
	return ch.Execute(ctx, cmd, probeTimeout).OK()
}

// CurrentVersion resolves the version currently running on the target. It
// tries, in order: the image tag of the running container, then the
// service's own version-reporting command. Returns "" when both fail.
func CurrentVersion(ctx context.Context, ch Channel, composePath, service, versionCommand string) string {
	cmd := fmt.Sprintf("docker ps --filter 'name=%s' --format '{{.Image}}' | head -1", service)
	res := ch.Execute(ctx, cmd, probeTimeout)
	if res.OK() {
		image := strings.TrimSpace(strings.SplitN(res.Stdout, "\n", 2)[0])
		if v, ok := registry.Parse(image); ok {
			return v.String()
		}
	}

	cmd = fmt.Sprintf(
		"cd %s && docker compose exec -T %s %s 2>/dev/null || docker-compose exec -T %s %s 2>/dev/null",
		composePath, service, versionCommand, service, versionCommand)
	res = ch.Execute(ctx, cmd, versionTimeout)
	if res.OK() {
		if v := registry.Extract(res.Stdout); v != "" {
			return v
		}
	}

	return ""
}
