package notification

import (
	"FlowSpectra/internal/engine/manager"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RunReport renders the subject and body of a run report. ok is false when
// the run finished normally and no report is due.
func RunReport(host string, s manager.Summary, runErr error) (subject, body string, ok bool) {
	var (
		srcErr  *manager.SourceError
		sinkErr *manager.SinkError
		status  string
	)
	switch {
	case errors.As(runErr, &sinkErr):
		status = "sink failure"
	case errors.As(runErr, &srcErr):
		status = "source failure"
	case runErr != nil:
		status = "failure"
	case s.Interrupted:
		status = "interrupted"
	default:
		return "", "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Flow profiling run on %s ended with %s.\n\n", host, status)
	if runErr != nil {
		fmt.Fprintf(&b, "Error:     %v\n", runErr)
	}
	fmt.Fprintf(&b, "Started:   %s\n", s.StartedAt.Format("2006-01-02_15-04-05"))
	fmt.Fprintf(&b, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "Read:      %d\n", s.Read)
	fmt.Fprintf(&b, "Rejected:  %d\n", s.Rejected)
	fmt.Fprintf(&b, "Written:   %d\n", s.Written)
	fmt.Fprintf(&b, "Lost:      %d\n", s.Lost)

	reasons := make([]string, 0, len(s.Cache.Evicted))
	for r := range s.Cache.Evicted {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "Evicted (%s): %d\n", r, s.Cache.Evicted[r])
	}

	return fmt.Sprintf("[flowprofile] %s: %s", host, status), b.String(), true
}
