package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/spectrocloud-labs/herd"
)

// Report is what the operator gets after a run: which steps completed,
// where the pipeline stopped, and which logical packages had no native
// mapping. Failed runs are never retried automatically; the report is
// what makes manual resume or cleanup possible.
type Report struct {
	Completed []string
	Failed    string
	Err       error
	Unmapped  []string
}

// Run executes the graph and derives the report from its analysis.
func (s *State) Run(ctx context.Context, g *herd.Graph) Report {
	runErr := g.Run(ctx)
	report := Report{Unmapped: s.unmapped}

	for _, layer := range g.Analyze() {
		for _, op := range layer {
			if op.Error != nil {
				report.Failed = op.Name
				report.Err = op.Error
				continue
			}
			if op.Executed {
				report.Completed = append(report.Completed, op.Name)
			}
		}
	}
	if report.Err == nil && runErr != nil {
		report.Err = runErr
	}
	return report
}

// Ok reports whether the run finished with no failing step.
func (r Report) Ok() bool {
	return r.Err == nil && r.Failed == ""
}

// String renders the report for terminal output.
func (r Report) String() string {
	var b strings.Builder
	if len(r.Completed) > 0 {
		b.WriteString("completed: " + strings.Join(r.Completed, ", ") + "\n")
	}
	if r.Failed != "" {
		fmt.Fprintf(&b, "failed at %q: %v\n", r.Failed, r.Err)
	} else if r.Err != nil {
		fmt.Fprintf(&b, "failed: %v\n", r.Err)
	}
	if len(r.Unmapped) > 0 {
		b.WriteString("packages without a native mapping: " + strings.Join(r.Unmapped, ", ") + "\n")
	}
	return b.String()
}
