package app

import (
	"context"
	"fmt"

	"github.com/tidemark/shoregrid/internal/ctxlog"
)

// Run executes the configured pipeline and prints the run summary.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	report, err := a.pipe.Run(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	fmt.Fprintf(a.outW, "Run %s finished.\n", report.RunID)
	for _, st := range report.Stages {
		fmt.Fprintf(a.outW, "  stage %-24s %s", st.Name, st.Status)
		if st.Succeeded+st.Failed+st.Skipped > 1 {
			fmt.Fprintf(a.outW, " (ok %d, failed %d, skipped %d)", st.Succeeded, st.Failed, st.Skipped)
		}
		fmt.Fprintln(a.outW)
	}
	if report.ReportPath != "" {
		fmt.Fprintf(a.outW, "Report: %s\n", report.ReportPath)
	}
	if report.Verify != nil {
		if report.Verify.Match() {
			fmt.Fprintf(a.outW, "Verification passed (max abs deviation %g).\n",
				report.Verify.Collection.MaxAbsDeviation)
		} else {
			fmt.Fprintf(a.outW, "Verification found %d mismatched attributes.\n",
				len(report.Verify.Collection.Mismatches))
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}
