package dockercli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotFound indicates the queried container does not exist.
var ErrNotFound = errors.New("dockercli: container not found")

const defaultCommandTimeout = 30 * time.Second

// runFunc executes a host command and captures its output. Tests substitute it
// to exercise argv construction and output parsing without a daemon.
type runFunc func(ctx context.Context, argv []string) (ExecResult, error)

// Client shells out to the docker CLI, optionally through sudo.
type Client struct {
	binary  string
	sudo    bool
	timeout time.Duration
	run     runFunc
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBinary overrides the runtime binary (e.g. podman).
func WithBinary(binary string) ClientOption {
	return func(c *Client) {
		if strings.TrimSpace(binary) != "" {
			c.binary = binary
		}
	}
}

// WithCommandTimeout bounds each runtime invocation.
func WithCommandTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRunFunc substitutes the command execution function (used in tests).
func WithRunFunc(fn runFunc) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.run = fn
		}
	}
}

// NewClient constructs a runtime client. When allowSudo is set the privilege
// requirement is probed once: a plain ping is attempted first and, on a
// permission failure, retried through sudo; the winning mode is memoized for
// the remainder of the run.
func NewClient(ctx context.Context, allowSudo bool, opts ...ClientOption) (*Client, error) {
	client := &Client{
		binary:  "docker",
		timeout: defaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.run == nil {
		client.run = client.execHost
	}

	if err := client.Ping(ctx); err != nil {
		if !allowSudo {
			return nil, fmt.Errorf("container runtime unreachable: %w", err)
		}
		client.sudo = true
		if sudoErr := client.Ping(ctx); sudoErr != nil {
			return nil, fmt.Errorf("container runtime unreachable (sudo fallback also failed): %w", sudoErr)
		}
	}

	return client, nil
}

// UsesSudo reports whether the memoized capability probe selected elevation.
func (c *Client) UsesSudo() bool {
	return c.sudo
}

// Ping implements Runtime.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.invoke(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("runtime ping failed (exit %d): %s", res.ExitCode, firstLine(res.Stderr))
	}
	return nil
}

// Inspect implements Runtime.
func (c *Client) Inspect(ctx context.Context, container string) (ContainerState, error) {
	if strings.TrimSpace(container) == "" {
		return ContainerState{}, errors.New("container name must not be empty")
	}

	format := "{{.State.Running}}|{{.State.Status}}|{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}"
	res, err := c.invoke(ctx, "inspect", "--format", format, container)
	if err != nil {
		return ContainerState{}, err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "No such object") || strings.Contains(res.Stderr, "no such container") {
			return ContainerState{}, fmt.Errorf("%w: %s", ErrNotFound, container)
		}
		return ContainerState{}, fmt.Errorf("inspect %s failed (exit %d): %s", container, res.ExitCode, firstLine(res.Stderr))
	}

	return parseInspectOutput(res.Stdout)
}

// Exec implements Runtime.
func (c *Client) Exec(ctx context.Context, container string, argv []string) (ExecResult, error) {
	if strings.TrimSpace(container) == "" {
		return ExecResult{}, errors.New("container name must not be empty")
	}
	if len(argv) == 0 {
		return ExecResult{}, errors.New("exec command must not be empty")
	}

	args := append([]string{"exec", container}, argv...)
	return c.invoke(ctx, args...)
}

// RestartProject implements Runtime.
func (c *Client) RestartProject(ctx context.Context, project string) error {
	if strings.TrimSpace(project) == "" {
		return errors.New("project name must not be empty")
	}

	res, err := c.invoke(ctx, "compose", "-p", project, "restart")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("restart project %s failed (exit %d): %s", project, res.ExitCode, firstLine(res.Stderr))
	}
	return nil
}

func (c *Client) invoke(ctx context.Context, args ...string) (ExecResult, error) {
	argv := make([]string, 0, len(args)+2)
	if c.sudo {
		argv = append(argv, "sudo", "-n")
	}
	argv = append(argv, c.binary)
	argv = append(argv, args...)
	return c.run(ctx, argv)
}

func (c *Client) execHost(ctx context.Context, argv []string) (ExecResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	execCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if execCtx.Err() != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return ExecResult{}, fmt.Errorf("command %q timed out after %s", strings.Join(argv, " "), c.timeout)
		}
		return ExecResult{}, execCtx.Err()
	}

	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %q: %w", strings.Join(argv, " "), err)
	}
	return result, nil
}

func parseInspectOutput(out string) (ContainerState, error) {
	parts := strings.Split(strings.TrimSpace(out), "|")
	if len(parts) != 3 {
		return ContainerState{}, fmt.Errorf("unexpected inspect output %q", strings.TrimSpace(out))
	}
	return ContainerState{
		Running: parts[0] == "true",
		Status:  parts[1],
		Health:  parseHealth(parts[2]),
	}, nil
}

func firstLine(s string) string {
	trimmed := strings.TrimSpace(s)
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

var _ Runtime = (*Client)(nil)
