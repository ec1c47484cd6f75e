// Package sshexec implements the remote command channel: it executes shell
// commands on a target over SSH and reports exit code, stdout, and stderr.
//
// The channel never returns an error for a failing command. Connection,
// authentication, and timeout failures are folded into a Result with exit
// code -1 and the error text in Stderr, so callers uniformly inspect the
// exit code instead of handling two failure paths.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/fleetup/fleetup/internal/crypto"
	"github.com/fleetup/fleetup/internal/database"
)

const (
	// DefaultTimeout bounds a single command when the caller does not
	// supply one.
	DefaultTimeout = 5 * time.Minute

	dialTimeout = 30 * time.Second
)

// Result is the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Output returns the combined trimmed stdout and stderr.
func (r Result) Output() string {
	var parts []string
	if s := strings.TrimSpace(r.Stdout); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// Channel executes commands against one target. A Channel is a scoped
// resource: the owner that acquired it must Close it on every exit path.
type Channel interface {
	Execute(ctx context.Context, command string, timeout time.Duration) Result
	Close()
}

// Factory produces a command channel for a target. Workflows and the health
// monitor take a Factory so tests can substitute fakes.
type Factory func(t *database.Target) Channel

// Executor is the SSH-backed Channel. It lazily dials on first use and keeps
// the connection for subsequent commands within the same handle, re-dialing
// when the transport has died. Not safe for concurrent use; each workflow
// owns its own handle.
type Executor struct {
	target *database.Target

	mu     sync.Mutex
	client *ssh.Client
}

func New(t *database.Target) *Executor {
	return &Executor{target: t}
}

// NewChannel is the Factory for real SSH connections.
func NewChannel(t *database.Target) Channel {
	return New(t)
}

// getClient returns a live SSH client, reusing the cached connection if it
// still answers a keepalive, dialing a fresh one otherwise.
func (e *Executor) getClient(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		if _, _, err := e.client.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return e.client, nil
		}
		e.client.Close()
		e.client = nil
	}

	auth, err := e.authMethod()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            e.target.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(e.target.Host, fmt.Sprintf("%d", e.target.Port))

	var client *ssh.Client
	var dialErr error
	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connect to %s: %w", addr, ctx.Err())
	case <-dialDone:
		if dialErr != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, dialErr)
		}
	}

	e.client = client
	return client, nil
}

func (e *Executor) authMethod() (ssh.AuthMethod, error) {
	switch e.target.AuthType {
	case database.AuthTypeKey:
		keyData, err := os.ReadFile(e.target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", e.target.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	case database.AuthTypePassword:
		password, err := crypto.Decrypt(e.target.Password)
		if err != nil {
			return nil, fmt.Errorf("decrypt password: %w", err)
		}
		if password == "" {
			return nil, fmt.Errorf("no password configured for target %q", e.target.Name)
		}
		return ssh.Password(password), nil
	default:
		return nil, fmt.Errorf("invalid auth configuration for target %q", e.target.Name)
	}
}

// Execute runs a command on the target. A zero timeout means DefaultTimeout.
func (e *Executor) Execute(ctx context.Context, command string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client, err := e.getClient(ctx)
	if err != nil {
		return Result{ExitCode: -1, Stderr: err.Error()}
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{ExitCode: -1, Stderr: fmt.Sprintf("create session: %v", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return resultFromRun(err, stdout.String(), stderr.String())
	case <-ctx.Done():
		session.Close()
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: fmt.Sprintf("command cancelled: %v", ctx.Err())}
	case <-timer.C:
		session.Close()
		return Result{ExitCode: -1, Stdout: stdout.String(), Stderr: fmt.Sprintf("command timed out after %s", timeout)}
	}
}

func resultFromRun(err error, stdout, stderr string) Result {
	if err == nil {
		return Result{ExitCode: 0, Stdout: stdout, Stderr: stderr}
	}
	if exitErr, ok := err.(*ssh.ExitError); ok {
		return Result{ExitCode: exitErr.ExitStatus(), Stdout: stdout, Stderr: stderr}
	}
	// Transport-level failure mid-command: no exit status was delivered.
	if stderr == "" {
		stderr = err.Error()
	}
	return Result{ExitCode: -1, Stdout: stdout, Stderr: stderr}
}

// Close releases the cached SSH connection, if any.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		e.client.Close()
		e.client = nil
	}
}
