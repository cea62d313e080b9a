package utils

import (
	"fmt"
	"io"
	"time"

	"klineCrawler/internal/app"
)

// PrintReport writes one block per entry, in the report's order.
func PrintReport(w io.Writer, report app.Report, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	if len(report.Entries) == 0 {
		_, err := fmt.Fprintln(w, "\nNo symbols with enough data to analyze.")
		return err
	}

	for _, e := range report.Entries {
		r := e.Result
		if _, err := fmt.Fprintf(w, "\n\nStats for %s\n", e.Symbol); err != nil {
			return err
		}
		fmt.Fprintf(w, "Signal: %s\n", r.Signal)
		fmt.Fprintf(w, "Latest close price: %s\n", formatFloat(e.LatestClose))
		fmt.Fprintf(w, "Estimated price: %s\n", formatFloat(r.EstimatedPrice))
		fmt.Fprintf(w, "Estimated timestamp: %s\n", r.EstimatedAt().In(loc).Format("2006-01-02 15:04:05"))
		fmt.Fprintf(w, "Percentage difference: %.4f %%\n", r.PercentageDifference)
		if e.Levels.HasLevels() {
			fmt.Fprintf(w, "Stop at: %s limit at: %s\n", formatFloat(*e.Levels.Stop), formatFloat(*e.Levels.Limit))
		}
	}
	return nil
}

// PrintCycleSummary writes one line per symbol of an ingestion cycle.
func PrintCycleSummary(w io.Writer, report app.CycleReport) {
	fmt.Fprintf(w, "Cycle %s: %d symbols, %d new klines, %d failed\n",
		report.CycleID, len(report.Results), report.Inserted(), len(report.Failed()))
	for _, r := range report.Results {
		switch {
		case r.Err != nil:
			fmt.Fprintf(w, "  %-16s error: %v\n", r.Symbol, r.Err)
		case r.Skipped:
			fmt.Fprintf(w, "  %-16s up to date\n", r.Symbol)
		default:
			fmt.Fprintf(w, "  %-16s fetched %d, inserted %d\n", r.Symbol, r.Fetched, r.Inserted)
		}
	}
}
