package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stacksentry/stacksentry/pkg/audit"
	"github.com/stacksentry/stacksentry/pkg/config"
	"github.com/stacksentry/stacksentry/pkg/cooldown"
	"github.com/stacksentry/stacksentry/pkg/dockercli"
	"github.com/stacksentry/stacksentry/pkg/gate"
	"github.com/stacksentry/stacksentry/pkg/lock"
	"github.com/stacksentry/stacksentry/pkg/observability"
	"github.com/stacksentry/stacksentry/pkg/probe"
	"github.com/stacksentry/stacksentry/pkg/recovery"
	"github.com/stacksentry/stacksentry/pkg/version"
)

const (
	exitOK       = 0
	exitFailures = 1
	exitUsage    = 2
)

const etcdCooldownKey = "/stacksentry/cooldown"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage(os.Stderr)
		return exitUsage
	}

	switch args[0] {
	case "audit":
		return commandAudit(args[1:])
	case "wait-ready":
		return commandWaitReady(args[1:])
	case "recover":
		return commandRecover(args[1:])
	case "validate-config":
		return commandValidate(args[1:])
	case "version":
		fmt.Println(version.Version)
		return exitOK
	case "help", "-h", "--help":
		usage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage(os.Stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: stacksentry <command> [options]
Commands:
  audit              Run the health probe battery against the stack
  wait-ready         Block until an endpoint accepts connections
  recover            Evaluate the liveness predicate and restart the stack if needed
  validate-config    Validate the configuration file
  version            Print build version
`)
}

func commandAudit(args []string) int {
	return commandAuditWithWriters(args, os.Stdout, os.Stderr)
}

func commandAuditWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	host := fs.String("host", "", "override the probe target host")
	dashboardUser := fs.String("dashboard-user", "", "credentials for the administrative route")
	dashboardPass := fs.String("dashboard-pass", "", "credentials for the administrative route")
	skipInternal := fs.Bool("skip-internal", false, "omit the inter-service reachability probe")
	useSudo := fs.Bool("use-sudo", false, "allow sudo fallback for container runtime queries")
	jsonOut := fs.Bool("json", false, "emit one JSON event per probe instead of text")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitUsage
	}
	if *host != "" {
		cfg.Host = *host
	}

	ctx := context.Background()
	client, err := dockercli.NewClient(ctx, *useSudo || cfg.UseSudo)
	if err != nil {
		fmt.Fprintf(stderr, "container runtime unreachable: %v\n", err)
		return exitFailures
	}

	auditor, err := audit.NewAuditor(cfg, client)
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up audit: %v\n", err)
		return exitFailures
	}

	summary, err := auditor.Run(ctx, audit.Options{
		SkipInternal:  *skipInternal,
		DashboardUser: *dashboardUser,
		DashboardPass: *dashboardPass,
	})
	if err != nil {
		fmt.Fprintf(stderr, "audit aborted: %v\n", err)
		return exitFailures
	}

	if *jsonOut {
		writeSummaryEvents(ctx, stdout, summary)
	} else if err := audit.WriteText(stdout, summary); err != nil {
		fmt.Fprintf(stderr, "failed to write report: %v\n", err)
		return exitFailures
	}

	if summary.Failures() > 0 {
		return exitFailures
	}
	return exitOK
}

func writeSummaryEvents(ctx context.Context, w io.Writer, summary probe.Summary) {
	logger := observability.NewJSONLogger(w)
	hostname, _ := os.Hostname()
	for _, res := range summary.Results {
		level := observability.LevelInfo
		switch res.Outcome {
		case probe.OutcomeWarn, probe.OutcomeSkip:
			level = observability.LevelWarn
		case probe.OutcomeFail:
			level = observability.LevelError
		}
		_ = logger.Log(ctx, observability.Event{
			Level:     level,
			Host:      hostname,
			Component: "audit",
			Event:     "probe_result",
			Message:   res.Detail,
			Fields: map[string]interface{}{
				"probe":       res.Name,
				"outcome":     string(res.Outcome),
				"duration_ms": res.Duration.Milliseconds(),
			},
		})
	}
	level := observability.LevelInfo
	if summary.Failures() > 0 {
		level = observability.LevelError
	}
	_ = logger.Log(ctx, observability.Event{
		Level:     level,
		Host:      hostname,
		Component: "audit",
		Event:     "audit_summary",
		Message:   fmt.Sprintf("%d of %d probes failed", summary.Failures(), len(summary.Results)),
		Fields: map[string]interface{}{
			"probes":   len(summary.Results),
			"failures": summary.Failures(),
		},
	})
}

func commandWaitReady(args []string) int {
	return commandWaitReadyWithWriters(args, os.Stdout, os.Stderr)
}

func commandWaitReadyWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("wait-ready", flag.ContinueOnError)
	fs.SetOutput(stderr)
	endpointRaw := fs.String("endpoint", "", "endpoint to wait for (tcp://host:port or http(s)://...)")
	timeout := fs.Duration("timeout", 60*time.Second, "maximum time to wait")
	interval := fs.Duration("interval", 2*time.Second, "poll interval between attempts")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *endpointRaw == "" {
		fmt.Fprintln(stderr, "--endpoint is required")
		fs.Usage()
		return exitUsage
	}

	endpoint, err := gate.ParseEndpoint(*endpointRaw)
	if err != nil {
		fmt.Fprintf(stderr, "invalid endpoint: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := gate.NewWaiter().WaitReady(ctx, endpoint, *timeout, *interval); err != nil {
		var timeoutErr *gate.TimeoutError
		if errors.As(err, &timeoutErr) || errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "wait-ready: %v\n", err)
			return exitFailures
		}
		fmt.Fprintf(stderr, "wait-ready: %v\n", err)
		return exitUsage
	}

	fmt.Fprintf(stdout, "endpoint %s ready after %s\n", *endpointRaw, time.Since(start).Round(time.Millisecond))
	return exitOK
}

func commandRecover(args []string) int {
	return commandRecoverWithWriters(args, os.Stdout, os.Stderr)
}

func commandRecoverWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	watch := fs.Bool("watch", false, "keep evaluating on an interval instead of a single pass")
	interval := fs.Duration("interval", time.Minute, "evaluation interval with --watch")
	dryRun := fs.Bool("dry-run", false, "report the restart decision without executing it")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := dockercli.NewClient(ctx, cfg.UseSudo)
	if err != nil {
		fmt.Fprintf(stderr, "container runtime unreachable: %v\n", err)
		return exitFailures
	}

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "stacksentry"
	}

	locker, cooldowns, cleanup, err := buildCoordination(cfg, hostname)
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up coordination: %v\n", err)
		return exitFailures
	}
	defer cleanup()

	logger := observability.NewJSONLogger(stderr)
	var collector observability.MetricsCollector = observability.NoopCollector{}
	var promCollector *observability.PrometheusCollector
	if cfg.Metrics.Enabled {
		promCollector = observability.NewPrometheusCollector()
		collector = promCollector
	}
	reporter := recovery.NewStructuredReporter(hostname, logger, collector)

	monitor, err := recovery.NewMonitor(cfg, client, locker, cooldowns,
		recovery.WithReporter(reporter),
		recovery.WithDryRun(*dryRun || cfg.DryRun))
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up recovery: %v\n", err)
		return exitUsage
	}

	if !*watch {
		out, err := monitor.Tick(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "recover: %v\n", err)
			return exitFailures
		}
		fmt.Fprintf(stdout, "%s: %s\n", out.Status, out.Message)
		return exitOK
	}

	if promCollector != nil {
		go serveMetrics(cfg.Metrics.Listen, promCollector, stderr)
	}

	loop, err := recovery.NewLoop(monitor, *interval,
		recovery.WithLoopErrorHandler(func(loopErr error) {
			fmt.Fprintf(stderr, "recover: %v\n", loopErr)
		}))
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up watch loop: %v\n", err)
		return exitUsage
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "recover: %v\n", err)
		return exitFailures
	}
	return exitOK
}

// buildCoordination selects the lock and cooldown backends: etcd when
// endpoints are configured, otherwise the local noop lock plus the file-backed
// cooldown record.
func buildCoordination(cfg *config.Config, hostname string) (lock.Manager, cooldown.Manager, func(), error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		cooldowns, err := cooldown.NewFileManager(cfg.Recovery.CooldownFile, hostname)
		if err != nil {
			return nil, nil, nil, err
		}
		return lock.NewNoopManager(), cooldowns, func() {}, nil
	}

	tlsCfg, err := cfg.Etcd.TLS.BuildTLS()
	if err != nil {
		return nil, nil, nil, err
	}

	locker, err := lock.NewEtcdManager(lock.EtcdManagerOptions{
		Endpoints: cfg.Etcd.Endpoints,
		Namespace: cfg.Etcd.Namespace,
		LockKey:   cfg.Recovery.Lock.Key,
		TTL:       cfg.LockTTL(),
		TLS:       tlsCfg,
		HostName:  hostname,
		ProcessID: os.Getpid(),
	})
	if err != nil {
		return nil, nil, nil, err
	}

	cooldowns, err := cooldown.NewEtcdManager(cooldown.EtcdManagerOptions{
		Endpoints: cfg.Etcd.Endpoints,
		Namespace: cfg.Etcd.Namespace,
		Key:       etcdCooldownKey,
		TLS:       tlsCfg,
		HostName:  hostname,
	})
	if err != nil {
		locker.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		_ = cooldowns.Close()
		_ = locker.Close()
	}
	return locker, cooldowns, cleanup, nil
}

func serveMetrics(listen string, collector *observability.PrometheusCollector, stderr io.Writer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(stderr, "metrics listener failed: %v\n", err)
	}
}

func commandValidate(args []string) int {
	return commandValidateWithWriters(args, os.Stdout, os.Stderr)
}

func commandValidateWithWriters(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultConfigPath, "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return exitUsage
	}

	fmt.Fprintf(stdout, "configuration at %s is valid\n", *configPath)
	return exitOK
}
