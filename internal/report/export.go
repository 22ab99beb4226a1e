package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
)

// Export formats
const (
	FormatText = "text"
	FormatCSV  = "csv"
)

// ErrUnknownFormat is returned by Export for an unsupported format
var ErrUnknownFormat = errors.New("unknown export format")

// utf8BOM prefixes every CSV export
const utf8BOM = "\ufeff"

// Export writes r in the given format
func Export(w io.Writer, r *Report, format string) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		return WriteText(w, r)
	case FormatCSV:
		return WriteCSV(w, r)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// WriteText renders a human readable report
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Report:\t%s\n", r.Name)
	fmt.Fprintf(tw, "ID:\t%s\n", r.ID)
	fmt.Fprintf(tw, "Kind:\t%s\n", r.Kind)
	fmt.Fprintf(tw, "Status:\t%s\n", r.Status)
	fmt.Fprintf(tw, "Created:\t%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Total:\t%d (passed %d, failed %d, errors %d)\n", r.Total, r.Passed, r.Failed, r.Errors)
	fmt.Fprintf(tw, "Duration:\t%dms\n", r.DurationMs)
	if r.Message != "" {
		fmt.Fprintf(tw, "Message:\t%s\n", r.Message)
	}

	if lt := r.LoadTest; lt != nil {
		fmt.Fprintf(tw, "Grade:\t%s\n", lt.Grade)
		fmt.Fprintf(tw, "Load:\t%d users, spawn rate %d/s, %s\n", lt.Users, lt.SpawnRate, lt.Duration)
		fmt.Fprintf(tw, "Failure rate:\t%.2f%%\n", lt.FailureRate)
		fmt.Fprintf(tw, "RPS:\t%.2f\n", lt.RPS)
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ENDPOINT\tMETHOD\tREQUESTS\tFAILURES\tAVG\tP50\tP75\tP90\tP95\tP99\tRPS")
		for _, e := range lt.Endpoints {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
				e.Name, e.Method, e.Requests, e.Failures, e.AvgMs, e.P50, e.P75, e.P90, e.P95, e.P99, e.RPS)
		}
	}

	if len(r.Calls) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "RESULT\tNAME\tMETHOD\tSTATUS\tDURATION\tATTEMPTS\tDETAIL")
		for _, c := range r.Calls {
			result := "PASS"
			if !c.Passed {
				result = "FAIL"
			}
			detail := c.Error
			if detail == "" && len(c.Failures) > 0 {
				detail = strings.Join(c.Failures, "; ")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\t%d\t%s\n",
				result, c.Name, c.Method, c.Status, c.DurationMs, c.Attempts, detail)
		}
	}

	return tw.Flush()
}

// WriteCSV writes one row per call or per endpoint, preceded by a UTF-8 BOM
func WriteCSV(w io.Writer, r *Report) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if r.LoadTest != nil {
		cw.Write([]string{"endpoint", "method", "requests", "failures", "avg_ms", "min_ms", "max_ms", "p50", "p75", "p90", "p95", "p99", "rps"})
		for _, e := range r.LoadTest.Endpoints {
			cw.Write([]string{
				e.Name, e.Method,
				strconv.Itoa(e.Requests), strconv.Itoa(e.Failures),
				ff(e.AvgMs), ff(e.MinMs), ff(e.MaxMs),
				ff(e.P50), ff(e.P75), ff(e.P90), ff(e.P95), ff(e.P99),
				ff(e.RPS),
			})
		}
	} else {
		cw.Write([]string{"name", "method", "url", "status", "duration_ms", "attempts", "passed", "error", "failures"})
		for _, c := range r.Calls {
			cw.Write([]string{
				c.Name, c.Method, c.URL,
				strconv.Itoa(c.Status),
				strconv.FormatInt(c.DurationMs, 10),
				strconv.Itoa(c.Attempts),
				strconv.FormatBool(c.Passed),
				c.Error,
				strings.Join(c.Failures, "; "),
			})
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func ff(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
