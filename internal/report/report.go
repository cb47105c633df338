// Package report renders cycle reports for operators: an indented JSON file
// and a plain-text table.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// WriteFile stores r as indented JSON at path. The file is written to a
// temporary sibling first and renamed, so readers never see a partial report.
func WriteFile(path string, r tracker.CycleReport) error {
	if path == "" {
		return fmt.Errorf("report path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if err := Encode(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move report into place: %w", err)
	}
	return nil
}

// Encode writes r as indented JSON.
func Encode(w io.Writer, r tracker.CycleReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Table prints one row per outcome followed by the summary counters.
func Table(out io.Writer, r tracker.CycleReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PRODUCT\tURL\tSTATUS\tPRICE\tATTEMPTS\tALERTS\tERROR")
	_, _ = fmt.Fprintln(w, "-------\t---\t------\t-----\t--------\t------\t-----")
	for _, o := range r.Outcomes {
		price := ""
		if o.Observation != nil {
			price = o.Observation.Price.String()
		}
		errText := o.Error
		if o.Kind != "" {
			errText = fmt.Sprintf("%s: %s", o.Kind, o.Error)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncate(o.Product, 24),
			truncate(o.URL, 48),
			o.Status,
			price,
			o.Attempts,
			len(o.Alerts),
			truncate(errText, 60),
		)
	}
	_ = w.Flush()

	s := r.Summary
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "Cycle:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.TimedOut {
		_, _ = fmt.Fprintln(w, "Timed out:\tyes")
	}
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Cancelled:\t%d\n", s.Cancelled)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Alerts:\t%d\n", s.Alerts)
	if s.NotificationFailures > 0 {
		_, _ = fmt.Fprintf(w, "Notification failures:\t%d\n", s.NotificationFailures)
	}
	if s.StoreFailures > 0 {
		_, _ = fmt.Fprintf(w, "Store failures:\t%d\n", s.StoreFailures)
	}
	_ = w.Flush()
}

// History prints stored observations newest first.
func History(out io.Writer, records []tracker.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIMESTAMP\tPRICE\tREGULAR\tSALE\tIN_STOCK\tSOURCE")
	_, _ = fmt.Fprintln(w, "---------\t-----\t-------\t----\t--------\t------")
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Price.String(),
			nullable(rec.RegularPrice.Valid, rec.RegularPrice.Decimal.String()),
			nullable(rec.SalePrice.Valid, rec.SalePrice.Decimal.String()),
			stock(rec.InStock),
			rec.SourceCategory,
		)
	}
	_ = w.Flush()
}

func nullable(valid bool, s string) string {
	if !valid {
		return "-"
	}
	return s
}

func stock(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	default:
		return "no"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
