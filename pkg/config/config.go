package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/stacksentry/config.yaml"

// Environment variables consulted once at load time for the optional virtual
// hosts. A value present in the config file takes precedence.
const (
	EnvAdminHost    = "STACKSENTRY_ADMIN_HOST"
	EnvFrontendHost = "STACKSENTRY_FRONTEND_HOST"
	EnvAPIHost      = "STACKSENTRY_API_HOST"
)

// Config represents the runtime configuration for the stack sentry.
type Config struct {
	Host          string           `yaml:"host"`
	Services      []ServiceConfig  `yaml:"services"`
	Proxy         ProxyConfig      `yaml:"proxy"`
	InternalProbe InternalProbe    `yaml:"internal_probe"`
	Recovery      RecoveryConfig   `yaml:"recovery"`
	Etcd          EtcdConfig       `yaml:"etcd"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	HTTPTimeout   int              `yaml:"http_timeout_sec"`
	UseSudo       bool             `yaml:"use_sudo"`
	DryRun        bool             `yaml:"dry_run"`
}

// ServiceConfig names a container whose process and health state is audited.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	Container string `yaml:"container"`
}

// ProxyConfig describes the reverse proxy in front of the stack and the
// virtual hosts routed through it. The hosts are optional; a route probe whose
// host is unset is skipped with an informational note.
type ProxyConfig struct {
	Container        string   `yaml:"container"`
	InternalCheckCmd []string `yaml:"internal_check_cmd"`
	AdminHost        string   `yaml:"admin_host"`
	FrontendHost     string   `yaml:"frontend_host"`
	APIHost          string   `yaml:"api_host"`
	InferencePath    string   `yaml:"inference_path"`
}

// InternalProbe configures the inter-service reachability check executed from
// inside the frontend container's network namespace.
type InternalProbe struct {
	Container string   `yaml:"container"`
	Cmd       []string `yaml:"cmd"`
}

// RecoveryConfig drives the accelerator liveness predicate and the restart of
// the managed service group. A negative cooldown_sec disables the cooldown
// window entirely; zero selects the default.
type RecoveryConfig struct {
	Project      string     `yaml:"project"`
	Container    string     `yaml:"container"`
	PredicateCmd []string   `yaml:"predicate_cmd"`
	RestartCmd   []string   `yaml:"restart_cmd"`
	CooldownSec  int        `yaml:"cooldown_sec"`
	CooldownFile string     `yaml:"cooldown_file"`
	Lock         LockConfig `yaml:"lock"`
	DenyWindows  []string   `yaml:"deny_windows"`
}

// LockConfig configures the restart mutex guarding concurrent recovery runs.
type LockConfig struct {
	Key    string `yaml:"key"`
	TTLSec int    `yaml:"ttl_sec"`
}

// EtcdConfig enables distributed coordination for multi-host deployments.
// When no endpoints are configured the sentry falls back to local coordination.
type EtcdConfig struct {
	Endpoints []string       `yaml:"endpoints"`
	Namespace string         `yaml:"namespace"`
	TLS       *EtcdTLSConfig `yaml:"tls"`
}

// EtcdTLSConfig configures optional TLS settings for connecting to etcd.
type EtcdTLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Insecure bool   `yaml:"insecure_skip_verify"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f, os.Getenv)
}

func decode(r io.Reader, getenv func(string) string) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.Host) == "" {
		problems = append(problems, "host is required")
	}
	if len(c.Services) == 0 {
		problems = append(problems, "at least one service must be configured")
	}
	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if strings.TrimSpace(svc.Name) == "" {
			problems = append(problems, fmt.Sprintf("services[%d]: name is required", i))
			continue
		}
		if _, ok := seen[svc.Name]; ok {
			problems = append(problems, fmt.Sprintf("services[%d]: duplicate service name %q", i, svc.Name))
		}
		seen[svc.Name] = struct{}{}
		if strings.TrimSpace(svc.Container) == "" {
			problems = append(problems, fmt.Sprintf("services[%d]: container is required", i))
		}
	}
	if c.HTTPTimeout < 0 {
		problems = append(problems, "http_timeout_sec must be non-negative")
	}
	if strings.TrimSpace(c.Proxy.Container) == "" {
		problems = append(problems, "proxy.container is required")
	}
	if len(c.Recovery.PredicateCmd) == 0 {
		problems = append(problems, "recovery.predicate_cmd must specify the liveness command")
	}
	if strings.TrimSpace(c.Recovery.Project) == "" && len(c.Recovery.RestartCmd) == 0 {
		problems = append(problems, "recovery requires either a project name or an explicit restart_cmd")
	}
	if strings.TrimSpace(c.Recovery.Container) == "" {
		problems = append(problems, "recovery.container is required")
	}
	if c.Recovery.Lock.TTLSec <= 0 {
		problems = append(problems, "recovery.lock.ttl_sec must be greater than zero")
	}
	if len(c.Etcd.Endpoints) > 0 && strings.TrimSpace(c.Recovery.Lock.Key) == "" {
		problems = append(problems, "recovery.lock.key is required when etcd endpoints are configured")
	}
	if c.Etcd.TLS != nil && c.Etcd.TLS.Enabled {
		if strings.TrimSpace(c.Etcd.TLS.CAFile) == "" {
			problems = append(problems, "etcd.tls.ca_file is required when TLS is enabled")
		}
		if strings.TrimSpace(c.Etcd.TLS.CertFile) == "" {
			problems = append(problems, "etcd.tls.cert_file is required when TLS is enabled")
		}
		if strings.TrimSpace(c.Etcd.TLS.KeyFile) == "" {
			problems = append(problems, "etcd.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (c *Config) applyDefaults(getenv func(string) string) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if strings.TrimSpace(c.Host) == "" {
		c.Host = "127.0.0.1"
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10
	}
	if strings.TrimSpace(c.Proxy.AdminHost) == "" {
		c.Proxy.AdminHost = strings.TrimSpace(getenv(EnvAdminHost))
	}
	if strings.TrimSpace(c.Proxy.FrontendHost) == "" {
		c.Proxy.FrontendHost = strings.TrimSpace(getenv(EnvFrontendHost))
	}
	if strings.TrimSpace(c.Proxy.APIHost) == "" {
		c.Proxy.APIHost = strings.TrimSpace(getenv(EnvAPIHost))
	}
	if len(c.Proxy.InternalCheckCmd) == 0 {
		c.Proxy.InternalCheckCmd = []string{"curl", "-fsS", "http://127.0.0.1:81/"}
	}
	if strings.TrimSpace(c.Proxy.InferencePath) == "" {
		c.Proxy.InferencePath = "/api/tags"
	}
	if len(c.Recovery.PredicateCmd) == 0 {
		c.Recovery.PredicateCmd = []string{"nvidia-smi", "-L"}
	}
	if c.Recovery.CooldownSec == 0 {
		c.Recovery.CooldownSec = 600
	}
	if strings.TrimSpace(c.Recovery.CooldownFile) == "" {
		c.Recovery.CooldownFile = "/run/stacksentry/cooldown"
	}
	if strings.TrimSpace(c.Recovery.Lock.Key) == "" && len(c.Etcd.Endpoints) > 0 {
		c.Recovery.Lock.Key = "/stacksentry/restart-lock"
	}
	if c.Recovery.Lock.TTLSec == 0 {
		c.Recovery.Lock.TTLSec = 300
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9270"
	}
}

// HTTPTimeoutDuration returns the per-request probe timeout as a duration.
func (c *Config) HTTPTimeoutDuration() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// Cooldown returns the minimum spacing between restarts as a duration. A
// configured negative value disables the window.
func (c *Config) Cooldown() time.Duration {
	if c == nil || c.Recovery.CooldownSec < 0 {
		return 0
	}
	return time.Duration(c.Recovery.CooldownSec) * time.Second
}

// LockTTL returns the restart lock TTL as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Recovery.Lock.TTLSec) * time.Second
}

// BuildTLS materialises a tls.Config from the file-based settings, or nil when
// TLS is not enabled.
func (t *EtcdTLSConfig) BuildTLS() (*tls.Config, error) {
	if t == nil || !t.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load etcd client certificate: %w", err)
	}
	caPEM, err := os.ReadFile(t.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read etcd CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("etcd CA bundle %s contains no certificates", t.CAFile)
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            pool,
		InsecureSkipVerify: t.Insecure, // #nosec G402 -- operator opt-in for lab clusters
		MinVersion:         tls.VersionTLS12,
	}, nil
}
