// Package audit builds and executes the fixed probe battery that verifies the
// proxied container stack end to end: container state, the proxy's own health
// port, the three proxied routes, and inter-service reachability.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stacksentry/stacksentry/pkg/config"
	"github.com/stacksentry/stacksentry/pkg/dockercli"
	"github.com/stacksentry/stacksentry/pkg/observability"
	"github.com/stacksentry/stacksentry/pkg/probe"
)

// Options carries the per-invocation audit inputs.
type Options struct {
	// SkipInternal omits the inter-service reachability probe entirely; it
	// then contributes zero results to the summary.
	SkipInternal bool
	// DashboardUser and DashboardPass are optional credentials for the
	// administrative route.
	DashboardUser string
	DashboardPass string
}

// Auditor executes the probe battery against a configured stack.
type Auditor struct {
	cfg     *config.Config
	runtime dockercli.Runtime
	prober  HTTPProber
	metrics observability.MetricsCollector
	now     func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithProber overrides the HTTP prober used for route probes.
func WithProber(prober HTTPProber) Option {
	return func(a *Auditor) {
		if prober != nil {
			a.prober = prober
		}
	}
}

// WithMetrics attaches a metrics collector to the auditor.
func WithMetrics(collector observability.MetricsCollector) Option {
	return func(a *Auditor) {
		if collector != nil {
			a.metrics = collector
		}
	}
}

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(a *Auditor) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuditor constructs an Auditor for the given configuration and runtime.
func NewAuditor(cfg *config.Config, runtime dockercli.Runtime, opts ...Option) (*Auditor, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	if runtime == nil {
		return nil, errors.New("container runtime must not be nil")
	}

	auditor := &Auditor{
		cfg:     cfg,
		runtime: runtime,
		prober:  NewInsecureProber(cfg.HTTPTimeoutDuration()),
		metrics: observability.NoopCollector{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(auditor)
	}
	return auditor, nil
}

// Run executes the battery in its fixed order and returns the summary.
func (a *Auditor) Run(ctx context.Context, opts Options) (probe.Summary, error) {
	runner, err := probe.NewRunner(a.battery(opts), probe.WithTimeSource(a.now))
	if err != nil {
		return probe.Summary{}, err
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return summary, err
	}

	for _, res := range summary.Results {
		a.metrics.Collect(observability.Metric{
			Name:        "audit_probes_total",
			Type:        observability.MetricCounter,
			Value:       1,
			Labels:      map[string]string{"outcome": string(res.Outcome)},
			Description: "Number of executed audit probes grouped by outcome.",
		})
		a.metrics.Collect(observability.Metric{
			Name:        "probe_duration_seconds",
			Type:        observability.MetricHistogram,
			Value:       res.Duration.Seconds(),
			Labels:      map[string]string{"probe": res.Name},
			Description: "Duration of individual audit probes.",
			Unit:        "seconds",
		})
	}

	return summary, nil
}

// battery assembles the probe list in the order operators expect in logs:
// container state first, then the proxy's own health port, then the three
// proxied routes, finally inter-service reachability.
func (a *Auditor) battery(opts Options) []probe.Probe {
	probes := make([]probe.Probe, 0, len(a.cfg.Services)+5)

	for _, svc := range a.cfg.Services {
		probes = append(probes, a.serviceProbe(svc))
	}

	probes = append(probes, probe.Probe{
		Name: "proxy:internal",
		Run: func(ctx context.Context) (probe.Outcome, string, error) {
			return a.execProbe(ctx, a.cfg.Proxy.Container, a.cfg.Proxy.InternalCheckCmd, "internal health endpoint")
		},
	})

	probes = append(probes,
		a.routeProbe("route:admin", "https", "/", a.cfg.Proxy.AdminHost,
			"administrative hostname not configured; set proxy.admin_host or "+config.EnvAdminHost,
			opts.DashboardUser, opts.DashboardPass, classifyAdmin),
		a.routeProbe("route:frontend", "https", "/", a.cfg.Proxy.FrontendHost,
			"frontend hostname not configured; set proxy.frontend_host or "+config.EnvFrontendHost,
			"", "", classifyFrontend),
		a.routeProbe("route:inference", "http", a.cfg.Proxy.InferencePath, a.cfg.Proxy.APIHost,
			"inference hostname not configured; set proxy.api_host or "+config.EnvAPIHost,
			"", "", classifyInference),
	)

	if !opts.SkipInternal {
		probes = append(probes, probe.Probe{
			Name: "internal:reachability",
			Run: func(ctx context.Context) (probe.Outcome, string, error) {
				if strings.TrimSpace(a.cfg.InternalProbe.Container) == "" || len(a.cfg.InternalProbe.Cmd) == 0 {
					return probe.OutcomeSkip, "internal probe not configured; set internal_probe.container and internal_probe.cmd", nil
				}
				return a.execProbe(ctx, a.cfg.InternalProbe.Container, a.cfg.InternalProbe.Cmd, "inference service")
			},
		})
	}

	return probes
}

func (a *Auditor) serviceProbe(svc config.ServiceConfig) probe.Probe {
	name := "service:" + svc.Name
	container := svc.Container
	return probe.Probe{
		Name: name,
		Run: func(ctx context.Context) (probe.Outcome, string, error) {
			state, err := a.runtime.Inspect(ctx, container)
			if err != nil {
				if errors.Is(err, dockercli.ErrNotFound) {
					return probe.OutcomeFail, fmt.Sprintf("container %s not found", container), nil
				}
				return probe.OutcomeFail, fmt.Sprintf("query container %s: %v", container, err), nil
			}
			if !state.Running {
				return probe.OutcomeFail, fmt.Sprintf("container %s not running (status %s)", container, state.Status), nil
			}
			switch state.Health {
			case dockercli.HealthHealthy:
				return probe.OutcomePass, fmt.Sprintf("container %s running, health check passing", container), nil
			case dockercli.HealthNone:
				return probe.OutcomePass, fmt.Sprintf("container %s running, no health check configured", container), nil
			default:
				return probe.OutcomeWarn, fmt.Sprintf("container %s running, health %s", container, state.Health), nil
			}
		},
	}
}

func (a *Auditor) execProbe(ctx context.Context, container string, argv []string, target string) (probe.Outcome, string, error) {
	result, err := a.runtime.Exec(ctx, container, argv)
	if err != nil {
		return probe.OutcomeFail, fmt.Sprintf("exec in %s: %v", container, err), nil
	}
	if result.ExitCode != 0 {
		detail := fmt.Sprintf("%s unreachable from %s (exit %d)", target, container, result.ExitCode)
		if trimmed := strings.TrimSpace(result.Stderr); trimmed != "" {
			detail = fmt.Sprintf("%s: %s", detail, trimmed)
		}
		return probe.OutcomeFail, detail, nil
	}
	return probe.OutcomePass, fmt.Sprintf("%s reachable from %s", target, container), nil
}

func (a *Auditor) routeProbe(name, scheme, path, hostHeader, missingNote, user, pass string, classify func(int) (probe.Outcome, string)) probe.Probe {
	return probe.Probe{
		Name: name,
		Run: func(ctx context.Context) (probe.Outcome, string, error) {
			if strings.TrimSpace(hostHeader) == "" {
				return probe.OutcomeSkip, missingNote, nil
			}
			if path == "" {
				path = "/"
			}
			resp, err := a.prober.Do(ctx, Request{
				URL:        fmt.Sprintf("%s://%s%s", scheme, a.cfg.Host, path),
				HostHeader: hostHeader,
				Username:   user,
				Password:   pass,
			})
			if err != nil {
				return probe.OutcomeFail, fmt.Sprintf("request %s (host %s): %v", name, hostHeader, err), nil
			}
			outcome, detail := classify(resp.StatusCode)
			return outcome, detail, nil
		},
	}
}
