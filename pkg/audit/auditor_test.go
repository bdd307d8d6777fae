package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stacksentry/stacksentry/pkg/config"
	"github.com/stacksentry/stacksentry/pkg/dockercli"
	"github.com/stacksentry/stacksentry/pkg/probe"
)

type inspectScript struct {
	state dockercli.ContainerState
	err   error
}

type execScript struct {
	result dockercli.ExecResult
	err    error
}

type fakeRuntime struct {
	inspects map[string]inspectScript
	execs    map[string]execScript
}

func (f *fakeRuntime) Ping(ctx context.Context) error { return nil }

func (f *fakeRuntime) Inspect(ctx context.Context, container string) (dockercli.ContainerState, error) {
	script, ok := f.inspects[container]
	if !ok {
		return dockercli.ContainerState{}, dockercli.ErrNotFound
	}
	return script.state, script.err
}

func (f *fakeRuntime) Exec(ctx context.Context, container string, argv []string) (dockercli.ExecResult, error) {
	script, ok := f.execs[container]
	if !ok {
		return dockercli.ExecResult{}, fmt.Errorf("no exec scripted for %s", container)
	}
	return script.result, script.err
}

func (f *fakeRuntime) RestartProject(ctx context.Context, project string) error {
	return errors.New("restart not expected during audits")
}

type proberCall struct {
	req Request
}

type fakeProber struct {
	statuses map[string]int
	errs     map[string]error
	calls    []proberCall
}

func (f *fakeProber) Do(ctx context.Context, req Request) (Response, error) {
	f.calls = append(f.calls, proberCall{req: req})
	if err, ok := f.errs[req.HostHeader]; ok {
		return Response{}, err
	}
	status, ok := f.statuses[req.HostHeader]
	if !ok {
		return Response{}, fmt.Errorf("no response scripted for host %s", req.HostHeader)
	}
	return Response{StatusCode: status}, nil
}

func running(health dockercli.HealthStatus) inspectScript {
	return inspectScript{state: dockercli.ContainerState{Running: true, Status: "running", Health: health}}
}

func auditConfig() *config.Config {
	return &config.Config{
		Host: "127.0.0.1",
		Services: []config.ServiceConfig{
			{Name: "proxy", Container: "nginx-proxy-manager"},
			{Name: "ollama", Container: "ollama"},
			{Name: "webui", Container: "open-webui"},
		},
		Proxy: config.ProxyConfig{
			Container:        "nginx-proxy-manager",
			InternalCheckCmd: []string{"curl", "-fsS", "http://127.0.0.1:81/"},
			AdminHost:        "npm.example.test",
			FrontendHost:     "chat.example.test",
			APIHost:          "api.example.test",
			InferencePath:    "/api/tags",
		},
		InternalProbe: config.InternalProbe{
			Container: "open-webui",
			Cmd:       []string{"curl", "-fsS", "http://ollama:11434/api/tags"},
		},
		HTTPTimeout: 10,
	}
}

func healthyRuntime() *fakeRuntime {
	return &fakeRuntime{
		inspects: map[string]inspectScript{
			"nginx-proxy-manager": running(dockercli.HealthHealthy),
			"ollama":              running(dockercli.HealthNone),
			"open-webui":          running(dockercli.HealthHealthy),
		},
		execs: map[string]execScript{
			"nginx-proxy-manager": {result: dockercli.ExecResult{ExitCode: 0}},
			"open-webui":          {result: dockercli.ExecResult{ExitCode: 0}},
		},
	}
}

func allPassProber() *fakeProber {
	return &fakeProber{statuses: map[string]int{
		"npm.example.test":  200,
		"chat.example.test": 200,
		"api.example.test":  200,
	}}
}

func runAudit(t *testing.T, cfg *config.Config, runtime *fakeRuntime, prober *fakeProber, opts Options) probe.Summary {
	t.Helper()
	auditor, err := NewAuditor(cfg, runtime, WithProber(prober))
	if err != nil {
		t.Fatalf("failed to create auditor: %v", err)
	}
	summary, err := auditor.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("unexpected audit error: %v", err)
	}
	return summary
}

func outcomeByName(t *testing.T, summary probe.Summary, name string) probe.Result {
	t.Helper()
	for _, res := range summary.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("probe %s missing from summary", name)
	return probe.Result{}
}

func TestAuditAllHealthy(t *testing.T) {
	summary := runAudit(t, auditConfig(), healthyRuntime(), allPassProber(), Options{})

	wantOrder := []string{
		"service:proxy", "service:ollama", "service:webui",
		"proxy:internal", "route:admin", "route:frontend", "route:inference",
		"internal:reachability",
	}
	if len(summary.Results) != len(wantOrder) {
		t.Fatalf("expected %d probes, got %d", len(wantOrder), len(summary.Results))
	}
	for i, name := range wantOrder {
		if summary.Results[i].Name != name {
			t.Fatalf("expected probe %d to be %s, got %s", i, name, summary.Results[i].Name)
		}
	}
	if summary.Failures() != 0 {
		t.Fatalf("expected zero failures, got %d", summary.Failures())
	}
	for _, res := range summary.Results {
		if res.Outcome != probe.OutcomePass {
			t.Fatalf("expected %s to pass, got %s (%s)", res.Name, res.Outcome, res.Detail)
		}
	}
}

func TestAuditMissingContainerCascades(t *testing.T) {
	runtime := healthyRuntime()
	delete(runtime.inspects, "ollama")
	prober := allPassProber()
	prober.errs = map[string]error{"api.example.test": errors.New("connect: connection refused")}
	delete(prober.statuses, "api.example.test")

	summary := runAudit(t, auditConfig(), runtime, prober, Options{})

	if res := outcomeByName(t, summary, "service:ollama"); res.Outcome != probe.OutcomeFail {
		t.Fatalf("expected missing container to fail, got %s", res.Outcome)
	}
	if res := outcomeByName(t, summary, "route:inference"); res.Outcome != probe.OutcomeFail {
		t.Fatalf("expected dependent route to fail, got %s", res.Outcome)
	}
	if summary.Failures() < 2 {
		t.Fatalf("expected at least two failures, got %d", summary.Failures())
	}
}

func TestAuditInferenceAllowlistRejection(t *testing.T) {
	prober := allPassProber()
	prober.statuses["api.example.test"] = 403

	summary := runAudit(t, auditConfig(), healthyRuntime(), prober, Options{})

	res := outcomeByName(t, summary, "route:inference")
	if res.Outcome != probe.OutcomeWarn {
		t.Fatalf("expected 403 to classify as warn, got %s", res.Outcome)
	}
	if !strings.Contains(res.Detail, "allowlist") {
		t.Fatalf("expected detail to reference the allowlist, got %q", res.Detail)
	}
	if summary.Failures() != 0 {
		t.Fatalf("expected warn to contribute zero failures, got %d", summary.Failures())
	}
}

func TestAuditMissingAdminHostSkips(t *testing.T) {
	cfg := auditConfig()
	cfg.Proxy.AdminHost = ""
	prober := allPassProber()

	summary := runAudit(t, cfg, healthyRuntime(), prober, Options{})
	res := outcomeByName(t, summary, "route:admin")
	if res.Outcome != probe.OutcomeSkip {
		t.Fatalf("expected missing hostname to skip the probe, got %s", res.Outcome)
	}
	if !strings.Contains(res.Detail, "admin_host") {
		t.Fatalf("expected skip note to name the missing setting, got %q", res.Detail)
	}
	if summary.Failures() != 0 {
		t.Fatalf("expected exit success with other probes passing, got %d failures", summary.Failures())
	}
}

func TestAuditSkipInternalContributesNothing(t *testing.T) {
	summary := runAudit(t, auditConfig(), healthyRuntime(), allPassProber(), Options{SkipInternal: true})

	for _, res := range summary.Results {
		if res.Name == "internal:reachability" {
			t.Fatal("expected the internal probe to be absent from the summary")
		}
	}
	if len(summary.Results) != 7 {
		t.Fatalf("expected seven probes with --skip-internal, got %d", len(summary.Results))
	}
}

func TestAuditAdminCredentialsForwarded(t *testing.T) {
	prober := allPassProber()
	runAudit(t, auditConfig(), healthyRuntime(), prober, Options{DashboardUser: "admin@example.test", DashboardPass: "secret"})

	var adminCall *proberCall
	for i := range prober.calls {
		if prober.calls[i].req.HostHeader == "npm.example.test" {
			adminCall = &prober.calls[i]
		}
	}
	if adminCall == nil {
		t.Fatal("expected an administrative route request")
	}
	if adminCall.req.Username != "admin@example.test" || adminCall.req.Password != "secret" {
		t.Fatalf("expected credentials on the admin request, got %+v", adminCall.req)
	}
	for _, call := range prober.calls {
		if call.req.HostHeader != "npm.example.test" && call.req.Username != "" {
			t.Fatalf("expected credentials only on the admin route, leaked to %s", call.req.HostHeader)
		}
	}
}

func TestAuditUnhealthyContainerWarns(t *testing.T) {
	runtime := healthyRuntime()
	runtime.inspects["open-webui"] = running(dockercli.HealthUnhealthy)

	summary := runAudit(t, auditConfig(), runtime, allPassProber(), Options{})
	res := outcomeByName(t, summary, "service:webui")
	if res.Outcome != probe.OutcomeWarn {
		t.Fatalf("expected unhealthy container to warn, got %s", res.Outcome)
	}
	if summary.Failures() != 0 {
		t.Fatalf("expected warn to contribute zero failures, got %d", summary.Failures())
	}
}

func TestAuditIdempotentClassification(t *testing.T) {
	cfg := auditConfig()
	runtime := healthyRuntime()
	runtime.inspects["ollama"] = inspectScript{state: dockercli.ContainerState{Running: false, Status: "exited"}}
	prober := allPassProber()
	prober.statuses["api.example.test"] = 502

	first := runAudit(t, cfg, runtime, prober, Options{})
	second := runAudit(t, cfg, runtime, prober, Options{})

	if len(first.Results) != len(second.Results) {
		t.Fatalf("expected identical probe counts, got %d and %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		if first.Results[i].Outcome != second.Results[i].Outcome {
			t.Fatalf("probe %s classified differently across runs: %s vs %s",
				first.Results[i].Name, first.Results[i].Outcome, second.Results[i].Outcome)
		}
	}
}

func TestClassificationTables(t *testing.T) {
	adminCases := map[int]probe.Outcome{
		200: probe.OutcomePass,
		301: probe.OutcomePass,
		302: probe.OutcomePass,
		401: probe.OutcomePass,
		403: probe.OutcomeFail,
		404: probe.OutcomeFail,
		500: probe.OutcomeFail,
	}
	for status, want := range adminCases {
		if got, _ := classifyAdmin(status); got != want {
			t.Fatalf("classifyAdmin(%d) = %s, want %s", status, got, want)
		}
	}
	if _, detail := classifyAdmin(401); !strings.Contains(detail, "authentication") {
		t.Fatalf("expected 401 detail to mention authentication, got %q", detail)
	}

	frontendCases := map[int]probe.Outcome{
		200: probe.OutcomePass,
		204: probe.OutcomePass,
		302: probe.OutcomePass,
		401: probe.OutcomeFail,
		404: probe.OutcomeFail,
		503: probe.OutcomeFail,
	}
	for status, want := range frontendCases {
		if got, _ := classifyFrontend(status); got != want {
			t.Fatalf("classifyFrontend(%d) = %s, want %s", status, got, want)
		}
	}

	inferenceCases := map[int]probe.Outcome{
		200: probe.OutcomePass,
		301: probe.OutcomePass,
		403: probe.OutcomeWarn,
		404: probe.OutcomeFail,
		502: probe.OutcomeFail,
	}
	for status, want := range inferenceCases {
		if got, _ := classifyInference(status); got != want {
			t.Fatalf("classifyInference(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestWriteTextReport(t *testing.T) {
	summary := probe.Summary{Results: []probe.Result{
		{Name: "service:ollama", Outcome: probe.OutcomePass, Detail: "container ollama running, no health check configured"},
		{Name: "route:inference", Outcome: probe.OutcomeWarn, Detail: "inference API rejected the probe source (status 403, likely IP allowlist)"},
		{Name: "route:frontend", Outcome: probe.OutcomeFail, Detail: "frontend route returned unexpected status 502"},
		{Name: "route:admin", Outcome: probe.OutcomeSkip, Detail: "administrative hostname not configured; set proxy.admin_host or STACKSENTRY_ADMIN_HOST"},
	}}

	var buf bytes.Buffer
	if err := WriteText(&buf, summary); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected one line per probe plus a total, got %d lines", len(lines))
	}
	wantPrefixes := []string{"[ ok ]", "[warn]", "[fail]", "[info]"}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Fatalf("expected line %d to start with %q, got %q", i, prefix, lines[i])
		}
	}
	if lines[4] != "1 of 4 probes failed" {
		t.Fatalf("unexpected total line %q", lines[4])
	}
}
