package probe

import (
	"context"
	"errors"
	"testing"
)

func TestRunnerExecutesInOrder(t *testing.T) {
	var order []string
	probes := []Probe{
		{Name: "first", Run: func(ctx context.Context) (Outcome, string, error) {
			order = append(order, "first")
			return OutcomePass, "ok", nil
		}},
		{Name: "second", Run: func(ctx context.Context) (Outcome, string, error) {
			order = append(order, "second")
			return OutcomeFail, "broken", nil
		}},
		{Name: "third", Run: func(ctx context.Context) (Outcome, string, error) {
			order = append(order, "third")
			return OutcomeWarn, "degraded", nil
		}},
	}

	runner, err := NewRunner(probes)
	if err != nil {
		t.Fatalf("failed to construct runner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("unexpected execution order: %v", order)
	}
	if len(summary.Results) != 3 {
		t.Fatalf("expected three results, got %d", len(summary.Results))
	}
	if summary.Failures() != 1 {
		t.Fatalf("expected one failure, got %d", summary.Failures())
	}
	if summary.Passed() {
		t.Fatal("expected summary not to pass with a failing probe")
	}
}

func TestRunnerContinuesPastFailures(t *testing.T) {
	executed := 0
	probes := []Probe{
		{Name: "a", Run: func(ctx context.Context) (Outcome, string, error) {
			executed++
			return OutcomeFail, "", errors.New("boom")
		}},
		{Name: "b", Run: func(ctx context.Context) (Outcome, string, error) {
			executed++
			return OutcomePass, "", nil
		}},
	}

	runner, err := NewRunner(probes)
	if err != nil {
		t.Fatalf("failed to construct runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if executed != 2 {
		t.Fatalf("expected both probes to execute, got %d", executed)
	}
	if summary.Results[0].Outcome != OutcomeFail {
		t.Fatalf("expected error to classify as fail, got %s", summary.Results[0].Outcome)
	}
	if summary.Results[0].Detail != "boom" {
		t.Fatalf("expected error detail preserved, got %q", summary.Results[0].Detail)
	}
}

func TestRunnerWarnAndSkipNeverCount(t *testing.T) {
	probes := []Probe{
		{Name: "warned", Run: func(ctx context.Context) (Outcome, string, error) {
			return OutcomeWarn, "allowlist rejection", nil
		}},
		{Name: "skipped", Run: func(ctx context.Context) (Outcome, string, error) {
			return OutcomeSkip, "admin host not configured", nil
		}},
	}

	runner, err := NewRunner(probes)
	if err != nil {
		t.Fatalf("failed to construct runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if summary.Failures() != 0 {
		t.Fatalf("expected zero failures, got %d", summary.Failures())
	}
	if !summary.Passed() {
		t.Fatal("expected summary to pass")
	}
}

func TestRunnerRejectsDuplicateNames(t *testing.T) {
	run := func(ctx context.Context) (Outcome, string, error) { return OutcomePass, "", nil }
	if _, err := NewRunner([]Probe{{Name: "dup", Run: run}, {Name: "dup", Run: run}}); err == nil {
		t.Fatal("expected duplicate probe names to be rejected")
	}
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	probes := []Probe{
		{Name: "cancel", Run: func(ctx context.Context) (Outcome, string, error) {
			cancel()
			return OutcomePass, "", nil
		}},
		{Name: "unreached", Run: func(ctx context.Context) (Outcome, string, error) {
			t.Fatal("probe after cancellation must not run")
			return OutcomePass, "", nil
		}},
	}

	runner, err := NewRunner(probes)
	if err != nil {
		t.Fatalf("failed to construct runner: %v", err)
	}
	if _, err := runner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunnerIsIdempotent(t *testing.T) {
	probes := []Probe{
		{Name: "stable", Run: func(ctx context.Context) (Outcome, string, error) {
			return OutcomeWarn, "always degraded", nil
		}},
	}
	runner, err := NewRunner(probes)
	if err != nil {
		t.Fatalf("failed to construct runner: %v", err)
	}
	first, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Results[0].Outcome != second.Results[0].Outcome || first.Results[0].Detail != second.Results[0].Detail {
		t.Fatal("expected identical classification across runs")
	}
}
