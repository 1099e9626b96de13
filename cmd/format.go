package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sells-group/studio-catalog/internal/model"
)

func formatJobsList(out io.Writer, jobs []model.IngestionJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tTYPE\tSTATUS\tPROGRESS\tPROCESSED\tFAILED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t----\t------\t--------\t---------\t------\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\t%d\t%s\n",
			truncateID(j.ID),
			j.SourceID,
			j.Type,
			j.Status,
			j.Progress,
			processedOf(j),
			j.FailedItems,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func processedOf(j model.IngestionJob) string {
	if j.TotalItems == nil {
		return fmt.Sprintf("%d", j.ProcessedItems)
	}
	return fmt.Sprintf("%d/%d", j.ProcessedItems, *j.TotalItems)
}

// formatJobSummary prints one job with its error log.
func formatJobSummary(out io.Writer, j model.IngestionJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", j.ID)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", j.SourceID)
	_, _ = fmt.Fprintf(w, "Type:\t%s\n", j.Type)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
	_, _ = fmt.Fprintf(w, "Progress:\t%d%%\n", j.Progress)
	_, _ = fmt.Fprintf(w, "Processed:\t%s\n", processedOf(j))
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", j.FailedItems)
	if j.StartedAt != nil && j.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", j.CompletedAt.Sub(*j.StartedAt).Round(time.Millisecond))
	}
	_ = w.Flush()

	if len(j.Errors) == 0 {
		return
	}
	_, _ = fmt.Fprintf(out, "\nErrors (%d):\n", len(j.Errors))
	for _, e := range j.Errors {
		subject := e.EntityName
		if subject == "" {
			subject = e.EntityID
		}
		if subject != "" {
			subject = " [" + subject + "]"
		}
		retries := ""
		if e.RetryCount > 0 {
			retries = fmt.Sprintf(" (retries: %d)", e.RetryCount)
		}
		_, _ = fmt.Fprintf(out, "  %-8s%s %s%s\n", strings.ToUpper(string(e.Severity)), subject, e.Message, retries)
	}
}

func formatSourcesList(out io.Writer, sources []model.SourceInfo) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tQUALITY\tENABLED\tESTIMATED")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-------\t-------\t---------")

	for _, s := range sources {
		est := "-"
		if s.EstimatedCount > 0 {
			est = fmt.Sprintf("%d", s.EstimatedCount)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%t\t%s\n", s.ID, s.Name, s.Priority, s.DataQuality, s.Enabled, est)
	}
	_ = w.Flush()
}

func formatReviewsList(out io.Writer, items []model.ReviewItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tCANDIDATE\tEXISTING\tSCORE\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t--------\t-----\t------\t-------")

	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			truncateID(it.ID),
			it.SourceID,
			clip(it.Candidate.Name, 30),
			truncateID(it.ExistingID),
			it.Match.MatchScore,
			it.Status,
			it.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatStudiosList(out io.Writer, studios []model.CandidateEntity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tLOCATION\tFOUNDED\tCONFIDENCE\tSOURCES")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-------\t----------\t-------")

	for _, s := range studios {
		founded := "-"
		if s.FoundedYear != nil {
			founded = fmt.Sprintf("%d", *s.FoundedYear)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			truncateID(s.ID),
			clip(s.Name, 30),
			clip(s.Location, 24),
			founded,
			s.Confidence,
			strings.Join(s.Metadata.Sources, ","),
		)
	}
	_ = w.Flush()
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
