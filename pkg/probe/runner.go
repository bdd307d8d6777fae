package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Runner executes an ordered battery of probes and aggregates their results.
type Runner struct {
	probes []Probe
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeSource injects a custom time source, enabling deterministic tests.
func WithTimeSource(fn func() time.Time) Option {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner from the provided probes. Probe names must be
// unique so operator output stays unambiguous and diffable across runs.
func NewRunner(probes []Probe, opts ...Option) (*Runner, error) {
	if len(probes) == 0 {
		return nil, errors.New("at least one probe must be configured")
	}

	seen := make(map[string]struct{}, len(probes))
	copied := make([]Probe, 0, len(probes))
	for _, p := range probes {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("probe name must not be empty")
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate probe name %q", name)
		}
		if p.Run == nil {
			return nil, fmt.Errorf("probe %q has no execution closure", name)
		}
		seen[name] = struct{}{}
		copied = append(copied, p)
	}

	runner := &Runner{probes: copied, now: time.Now}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Run executes every probe in declaration order. A failing probe never aborts
// the battery; only context cancellation stops execution early.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	summary := Summary{Results: make([]Result, 0, len(r.probes))}

	for _, p := range r.probes {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}

		start := r.now()
		outcome, detail, err := p.Run(ctx)
		duration := r.now().Sub(start)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			outcome = OutcomeFail
			if detail == "" {
				detail = err.Error()
			} else {
				detail = fmt.Sprintf("%s: %v", detail, err)
			}
		}

		summary.Results = append(summary.Results, Result{
			Name:     p.Name,
			Outcome:  outcome,
			Detail:   detail,
			Duration: duration,
		})
	}

	return summary, nil
}
