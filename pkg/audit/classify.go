package audit

import (
	"fmt"

	"github.com/stacksentry/stacksentry/pkg/probe"
)

// classifyAdmin maps status codes for the administrative route. Credentials
// are optional input, so 401 confirms the route exists and auth is enforced.
func classifyAdmin(status int) (probe.Outcome, string) {
	switch {
	case status == 200 || (status >= 300 && status < 400):
		return probe.OutcomePass, fmt.Sprintf("administrative route reachable (status %d)", status)
	case status == 401:
		return probe.OutcomePass, "administrative route reachable, authentication enforced (status 401)"
	default:
		return probe.OutcomeFail, fmt.Sprintf("administrative route returned unexpected status %d", status)
	}
}

// classifyFrontend maps status codes for the frontend root path.
func classifyFrontend(status int) (probe.Outcome, string) {
	if status >= 200 && status < 400 {
		return probe.OutcomePass, fmt.Sprintf("frontend route reachable (status %d)", status)
	}
	return probe.OutcomeFail, fmt.Sprintf("frontend route returned unexpected status %d", status)
}

// classifyInference maps status codes for the inference list-models endpoint.
// A 403 is an allowlist rejection by the proxy, not a service fault.
func classifyInference(status int) (probe.Outcome, string) {
	switch {
	case status >= 200 && status < 400:
		return probe.OutcomePass, fmt.Sprintf("inference API reachable (status %d)", status)
	case status == 403:
		return probe.OutcomeWarn, "inference API rejected the probe source (status 403, likely IP allowlist)"
	default:
		return probe.OutcomeFail, fmt.Sprintf("inference API returned unexpected status %d", status)
	}
}
