// Package probe provides the generic check battery executed by the health
// auditor: an ordered list of named probes, each producing one classified
// result, run sequentially with partial-failure semantics.
package probe

import (
	"context"
	"time"
)

// Outcome classifies a single probe result.
type Outcome string

const (
	// OutcomePass marks a fully healthy check.
	OutcomePass Outcome = "pass"
	// OutcomeWarn marks an expected-degraded condition that requires no action.
	OutcomeWarn Outcome = "warn"
	// OutcomeFail marks a genuine failure contributing to the exit status.
	OutcomeFail Outcome = "fail"
	// OutcomeSkip marks a probe whose prerequisite configuration is absent.
	OutcomeSkip Outcome = "skip"
)

// Result captures the outcome of one probe.
type Result struct {
	Name     string
	Outcome  Outcome
	Detail   string
	Duration time.Duration
}

// Probe couples a stable name with an execution closure. The closure returns
// the classification and a human-readable detail; a returned error is folded
// into a fail result rather than aborting the battery.
type Probe struct {
	Name string
	Run  func(ctx context.Context) (Outcome, string, error)
}

// Summary is the ordered sequence of results for one battery invocation.
type Summary struct {
	Results []Result
}

// Failures returns the number of fail-classified results. Warn and skip
// results never contribute.
func (s Summary) Failures() int {
	count := 0
	for _, res := range s.Results {
		if res.Outcome == OutcomeFail {
			count++
		}
	}
	return count
}

// Passed reports whether the battery completed without failures.
func (s Summary) Passed() bool {
	return s.Failures() == 0
}
