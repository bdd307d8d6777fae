// Package recovery watches the accelerator liveness predicate and restarts
// the managed service group when the predicate fails, subject to deny
// windows, the restart cooldown, and the restart lock.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stacksentry/stacksentry/pkg/config"
	"github.com/stacksentry/stacksentry/pkg/cooldown"
	"github.com/stacksentry/stacksentry/pkg/dockercli"
	"github.com/stacksentry/stacksentry/pkg/lock"
	"github.com/stacksentry/stacksentry/pkg/observability"
	"github.com/stacksentry/stacksentry/pkg/windows"
)

// OutcomeStatus represents the final decision of a single recovery pass.
type OutcomeStatus string

const (
	OutcomeHealthy         OutcomeStatus = "healthy"
	OutcomeWindowDenied    OutcomeStatus = "window_denied"
	OutcomeCooldownActive  OutcomeStatus = "cooldown_active"
	OutcomeLockUnavailable OutcomeStatus = "lock_unavailable"
	OutcomeRestartPlanned  OutcomeStatus = "restart_planned"
	OutcomeRestarted       OutcomeStatus = "restarted"
)

// Outcome summarises the steps performed during Tick.
type Outcome struct {
	Status    OutcomeStatus
	Message   string
	Predicate *dockercli.ExecResult
	DryRun    bool
	Command   []string
}

// Monitor executes the recovery decision flow once per tick.
type Monitor struct {
	cfg      *config.Config
	runtime  dockercli.Runtime
	locker   lock.Manager
	cooldown cooldown.Manager
	windows  *windows.Evaluator
	executor CommandExecutor
	reporter Reporter
	now      func() time.Time
	dryRun   bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithReporter attaches an observability reporter to the monitor.
func WithReporter(rep Reporter) Option {
	return func(m *Monitor) {
		if rep != nil {
			m.reporter = rep
		}
	}
}

// WithExecutor overrides the executor used for configured restart commands.
func WithExecutor(executor CommandExecutor) Option {
	return func(m *Monitor) {
		if executor != nil {
			m.executor = executor
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(m *Monitor) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithDryRun makes the monitor report the restart it would perform without
// executing it or starting a cooldown window.
func WithDryRun(enabled bool) Option {
	return func(m *Monitor) {
		m.dryRun = enabled
	}
}

// NewMonitor constructs a Monitor with the provided dependencies.
func NewMonitor(cfg *config.Config, runtime dockercli.Runtime, locker lock.Manager, cooldowns cooldown.Manager, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if runtime == nil {
		return nil, errors.New("container runtime must not be nil")
	}
	if locker == nil {
		return nil, errors.New("lock manager must not be nil")
	}
	if cooldowns == nil {
		return nil, errors.New("cooldown manager must not be nil")
	}
	if strings.TrimSpace(cfg.Recovery.Container) == "" {
		return nil, errors.New("recovery requires a target container")
	}
	if len(cfg.Recovery.PredicateCmd) == 0 {
		return nil, errors.New("recovery requires a liveness predicate command")
	}

	monitor := &Monitor{
		cfg:      cfg,
		runtime:  runtime,
		locker:   locker,
		cooldown: cooldowns,
		executor: NewExecCommandExecutor(nil, nil),
		reporter: NoopReporter{},
		now:      time.Now,
		dryRun:   cfg.DryRun,
	}

	for _, opt := range opts {
		opt(monitor)
	}

	windowsEval, err := windows.New(cfg.Recovery.DenyWindows)
	if err != nil {
		return nil, fmt.Errorf("parse deny windows: %w", err)
	}
	monitor.windows = windowsEval

	return monitor, nil
}

// Tick executes the recovery flow and returns the resulting outcome.
func (m *Monitor) Tick(ctx context.Context) (out Outcome, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if err == nil && out.Status != "" {
			m.recordOutcome(ctx, out)
		}
	}()

	predicateStart := time.Now()
	result, execErr := m.runtime.Exec(ctx, m.cfg.Recovery.Container, m.cfg.Recovery.PredicateCmd)
	m.recordPredicate(ctx, result, time.Since(predicateStart), execErr)
	if execErr != nil {
		return out, fmt.Errorf("run liveness predicate in %s: %w", m.cfg.Recovery.Container, execErr)
	}
	out.Predicate = &result
	if result.ExitCode == 0 {
		out.Status = OutcomeHealthy
		out.Message = "liveness predicate passed"
		return out, nil
	}

	if denied, expr := m.windows.Denied(m.now()); denied {
		out.Status = OutcomeWindowDenied
		out.Message = fmt.Sprintf("restart blocked by deny window %q", expr)
		return out, nil
	}

	status, cooldownErr := m.cooldown.Status(ctx)
	if cooldownErr != nil {
		return out, fmt.Errorf("read cooldown status: %w", cooldownErr)
	}
	if status.Active {
		out.Status = OutcomeCooldownActive
		out.Message = fmt.Sprintf("restart suppressed, cooldown active for %s (started by %s)", status.Remaining.Round(time.Second), status.Host)
		return out, nil
	}

	lease, lockErr := m.locker.Acquire(ctx)
	if lockErr != nil {
		if errors.Is(lockErr, lock.ErrNotAcquired) {
			out.Status = OutcomeLockUnavailable
			out.Message = "restart lock held elsewhere"
			return out, nil
		}
		return out, fmt.Errorf("acquire restart lock: %w", lockErr)
	}
	defer m.releaseLease(lease, &err)

	out.Command = m.restartCommand()
	if m.dryRun {
		out.Status = OutcomeRestartPlanned
		out.DryRun = true
		out.Message = fmt.Sprintf("dry-run: would restart service group %s", m.cfg.Recovery.Project)
		return out, nil
	}

	restartStart := time.Now()
	restartErr := m.restart(ctx)
	m.recordRestart(ctx, time.Since(restartStart), restartErr)
	if restartErr != nil {
		return out, fmt.Errorf("restart service group %s: %w", m.cfg.Recovery.Project, restartErr)
	}

	if window := m.cfg.Cooldown(); window > 0 {
		if startErr := m.cooldown.Start(ctx, window); startErr != nil {
			m.reporter.RecordEvent(ctx, observability.Event{
				Level:   observability.LevelWarn,
				Event:   "cooldown_start_failed",
				Message: startErr.Error(),
			})
		}
	}

	out.Status = OutcomeRestarted
	out.Message = fmt.Sprintf("service group %s restarted", m.cfg.Recovery.Project)
	return out, nil
}

func (m *Monitor) restart(ctx context.Context) error {
	if len(m.cfg.Recovery.RestartCmd) > 0 {
		return m.executor.Execute(ctx, m.cfg.Recovery.RestartCmd)
	}
	return m.runtime.RestartProject(ctx, m.cfg.Recovery.Project)
}

func (m *Monitor) restartCommand() []string {
	if len(m.cfg.Recovery.RestartCmd) > 0 {
		return append([]string(nil), m.cfg.Recovery.RestartCmd...)
	}
	return []string{"docker", "compose", "-p", m.cfg.Recovery.Project, "restart"}
}

func (m *Monitor) releaseLease(lease lock.Lease, err *error) {
	if lease == nil {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if releaseErr := lease.Release(releaseCtx); releaseErr != nil && *err == nil {
		*err = fmt.Errorf("release restart lock: %w", releaseErr)
	}
}

func (m *Monitor) recordPredicate(ctx context.Context, result dockercli.ExecResult, duration time.Duration, execErr error) {
	outcome := "pass"
	level := observability.LevelInfo
	fields := map[string]interface{}{
		"container":   m.cfg.Recovery.Container,
		"duration_ms": duration.Milliseconds(),
	}
	switch {
	case execErr != nil:
		outcome = "error"
		level = observability.LevelError
		fields["error"] = execErr.Error()
	case result.ExitCode != 0:
		outcome = "fail"
		level = observability.LevelWarn
		fields["exit_code"] = result.ExitCode
		if trimmed := strings.TrimSpace(result.Stderr); trimmed != "" {
			fields["stderr"] = trimmed
		}
	}

	m.reporter.RecordMetric(observability.Metric{
		Name:        "predicate_checks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": outcome},
		Description: "Number of liveness predicate executions grouped by result.",
	})

	m.reporter.RecordEvent(ctx, observability.Event{
		Level:  level,
		Event:  "liveness_predicate",
		Fields: fields,
	})
}

func (m *Monitor) recordRestart(ctx context.Context, duration time.Duration, restartErr error) {
	outcome := "success"
	level := observability.LevelInfo
	message := fmt.Sprintf("restarted service group %s", m.cfg.Recovery.Project)
	fields := map[string]interface{}{
		"project":     m.cfg.Recovery.Project,
		"duration_ms": duration.Milliseconds(),
	}
	if restartErr != nil {
		outcome = "error"
		level = observability.LevelError
		message = fmt.Sprintf("restart of service group %s failed", m.cfg.Recovery.Project)
		fields["error"] = restartErr.Error()
	}

	m.reporter.RecordMetric(observability.Metric{
		Name:        "restart_attempts_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"result": outcome},
		Description: "Number of service group restart attempts grouped by result.",
	})
	m.reporter.RecordMetric(observability.Metric{
		Name:        "restart_duration_seconds",
		Type:        observability.MetricHistogram,
		Value:       duration.Seconds(),
		Description: "Duration of service group restarts.",
		Unit:        "seconds",
	})

	m.reporter.RecordEvent(ctx, observability.Event{
		Level:   level,
		Event:   "restart",
		Message: message,
		Fields:  fields,
	})
}

func (m *Monitor) recordOutcome(ctx context.Context, out Outcome) {
	level := observability.LevelInfo
	switch out.Status {
	case OutcomeWindowDenied, OutcomeCooldownActive, OutcomeLockUnavailable:
		level = observability.LevelWarn
	}

	m.reporter.RecordMetric(observability.Metric{
		Name:        "recovery_ticks_total",
		Type:        observability.MetricCounter,
		Value:       1,
		Labels:      map[string]string{"status": string(out.Status)},
		Description: "Number of recovery passes grouped by outcome.",
	})

	m.reporter.RecordEvent(ctx, observability.Event{
		Level:   level,
		Event:   "recovery_outcome",
		Message: out.Message,
		Fields: map[string]interface{}{
			"status":  string(out.Status),
			"dry_run": out.DryRun,
		},
	})
}
