package audit

import (
	"fmt"
	"io"

	"github.com/stacksentry/stacksentry/pkg/probe"
)

// severity markers keep every line the same width so output diffs cleanly.
var outcomeMarkers = map[probe.Outcome]string{
	probe.OutcomePass: "[ ok ]",
	probe.OutcomeWarn: "[warn]",
	probe.OutcomeFail: "[fail]",
	probe.OutcomeSkip: "[info]",
}

// WriteText renders one line per probe result plus a final failure-count line.
func WriteText(w io.Writer, summary probe.Summary) error {
	for _, res := range summary.Results {
		marker, ok := outcomeMarkers[res.Outcome]
		if !ok {
			marker = "[ ?? ]"
		}
		if _, err := fmt.Fprintf(w, "%s %s: %s\n", marker, res.Name, res.Detail); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d of %d probes failed\n", summary.Failures(), len(summary.Results))
	return err
}
