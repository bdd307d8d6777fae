// Package dockercli talks to the container runtime through its CLI. The
// narrow Runtime interface keeps probe and recovery logic testable without a
// live daemon.
package dockercli

import (
	"context"
	"strings"
)

// HealthStatus mirrors the runtime's health-check verdict for a container.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	// HealthNone marks containers without a configured health check.
	HealthNone    HealthStatus = "none"
	HealthUnknown HealthStatus = "unknown"
)

// ContainerState captures the observed process and health state of a container.
type ContainerState struct {
	Running bool
	Status  string
	Health  HealthStatus
}

// ExecResult summarises a command executed inside a container's namespace.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runtime is the capability surface the sentry needs from the container
// runtime: read state, run a command in a container, restart a service group.
type Runtime interface {
	// Ping verifies the runtime control socket is reachable.
	Ping(ctx context.Context) error
	// Inspect returns the process and health state for a named container.
	Inspect(ctx context.Context, container string) (ContainerState, error)
	// Exec runs argv inside the named container and captures its output.
	Exec(ctx context.Context, container string, argv []string) (ExecResult, error)
	// RestartProject restarts every container in a compose project.
	RestartProject(ctx context.Context, project string) error
}

func parseHealth(raw string) HealthStatus {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	case "starting":
		return HealthStarting
	case "none", "":
		return HealthNone
	default:
		return HealthUnknown
	}
}
