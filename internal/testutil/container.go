package testutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ContainerRuntime wraps whichever container engine is installed on the
// test host so packaging smoke tests can run install scripts in throwaway
// containers.
type ContainerRuntime struct {
	name   string
	binary string
}

type ContainerRunOptions struct {
	Image   string
	Cmd     []string
	Env     []string
	Mounts  []ContainerMount
	WorkDir string
}

type ContainerMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// FindContainerRuntime locates docker or podman on PATH, preferring docker.
func FindContainerRuntime() (*ContainerRuntime, error) {
	for _, candidate := range []string{"docker", "podman"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return &ContainerRuntime{name: candidate, binary: path}, nil
		}
	}
	return nil, fmt.Errorf("no container runtime found (looked for docker, podman)")
}

func (r *ContainerRuntime) Name() string {
	return r.name
}

// Run executes a one-shot container and returns its combined output. Mount
// sources are resolved to absolute paths and must exist before the run.
func (r *ContainerRuntime) Run(ctx context.Context, opts ContainerRunOptions) ([]byte, error) {
	if opts.Image == "" {
		return nil, fmt.Errorf("container image must be specified")
	}
	if len(opts.Cmd) == 0 {
		return nil, fmt.Errorf("container command must be specified")
	}

	args := []string{"run", "--rm"}
	for _, env := range opts.Env {
		if env != "" {
			args = append(args, "-e", env)
		}
	}
	for _, mount := range opts.Mounts {
		spec, err := mount.spec()
		if err != nil {
			return nil, err
		}
		args = append(args, "-v", spec)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	args = append(args, opts.Image)
	args = append(args, opts.Cmd...)

	cmd := exec.CommandContext(ctx, r.binary, args...) // #nosec G204 -- runtime is developer-controlled
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	err := cmd.Run()
	return combined.Bytes(), err
}

func (m ContainerMount) spec() (string, error) {
	if m.Source == "" || m.Target == "" {
		return "", fmt.Errorf("mounts must define both source and target paths")
	}
	src := m.Source
	if !filepath.IsAbs(src) {
		abs, err := filepath.Abs(src)
		if err != nil {
			return "", fmt.Errorf("failed to resolve mount source %q: %w", src, err)
		}
		src = abs
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("mount source %q not accessible: %w", src, err)
	}
	spec := fmt.Sprintf("%s:%s", src, m.Target)
	if m.ReadOnly {
		spec += ":ro"
	}
	return spec, nil
}
