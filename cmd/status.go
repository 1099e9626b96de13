package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/studio-catalog/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize recent ingestion health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(st, st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(os.Stdout, snap)
		}
		formatStatus(os.Stdout, snap, monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap))
		return nil
	},
}

func formatStatus(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Jobs:\t%d (%d completed, %d failed, %d cancelled, %d active)\n",
		snap.JobsTotal, snap.JobsCompleted, snap.JobsFailed, snap.JobsCancelled, snap.JobsActive)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.JobFailRate*100)
	_, _ = fmt.Fprintf(w, "Records:\t%d processed, %d failed\n", snap.ProcessedItems, snap.FailedItems)
	_, _ = fmt.Fprintf(w, "Critical errors:\t%d\n", snap.CriticalErrors)
	if len(snap.FailedSources) > 0 {
		_, _ = fmt.Fprintf(w, "Failing sources:\t%s\n", strings.Join(snap.FailedSources, ", "))
	}
	_, _ = fmt.Fprintf(w, "Pending reviews:\t%d\n", snap.PendingReviews)
	_ = w.Flush()

	if len(alerts) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "\nAlerts:")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "  [%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	rootCmd.AddCommand(statusCmd)
}
