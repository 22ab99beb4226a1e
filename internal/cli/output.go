package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/executor"
	"github.com/studiowebux/apitest/internal/history"
	"github.com/studiowebux/apitest/internal/loadtest"
	"github.com/studiowebux/apitest/internal/report"
	"github.com/studiowebux/apitest/internal/types"
)

// Output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
	FormatBody = "body"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle = lipgloss.NewStyle().Bold(true)
)

var gradeStyles = map[string]lipgloss.Style{
	loadtest.GradeA: passStyle,
	loadtest.GradeB: passStyle,
	loadtest.GradeC: warnStyle,
	loadtest.GradeD: warnStyle,
	loadtest.GradeF: failStyle,
}

// Encode writes v as JSON or YAML
func Encode(w io.Writer, v interface{}, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

func verdict(passed bool) string {
	if passed {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

func statusStyle(status int) lipgloss.Style {
	switch {
	case executor.IsSuccessStatus(status):
		return passStyle
	case status >= 400 || status == 0:
		return failStyle
	default:
		return warnStyle
	}
}

// WriteExecution renders one execution in the given format
func WriteExecution(w io.Writer, exec *types.Execution, format string, showFull bool) error {
	switch format {
	case FormatJSON, FormatYAML:
		return Encode(w, exec, format)
	case FormatBody:
		if last := exec.Last(); last != nil {
			fmt.Fprintln(w, last.Body)
		}
		return nil
	}

	for _, a := range exec.Attempts {
		writeAttempt(w, &a, len(exec.Attempts) > 1, showFull)
	}
	if len(exec.Attempts) > 1 {
		fmt.Fprintf(w, "%s %d attempts in %s\n", verdict(exec.Passed), len(exec.Attempts), executor.FormatDuration(exec.Duration))
	}
	return nil
}

func writeAttempt(w io.Writer, r *types.ExecutionResult, numbered, showFull bool) {
	if numbered {
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Attempt %d", r.Attempt)))
	}

	fmt.Fprintf(w, "%s %s %s\n", verdict(r.Passed), r.Method, r.URL)
	if r.Error != "" {
		fmt.Fprintf(w, "%s\n", failStyle.Render(fmt.Sprintf("%s: %s", r.ErrorKind, r.Error)))
	} else {
		status := fmt.Sprintf("%d %s", r.Status, r.StatusText)
		fmt.Fprintf(w, "%s | Duration: %s | Size: %s\n",
			statusStyle(r.Status).Render(strings.TrimSpace(status)),
			executor.FormatDuration(r.Duration),
			executor.FormatSize(r.ResponseSize))
	}

	if showFull && len(r.Headers) > 0 {
		fmt.Fprintln(w, "\nHeaders:")
		keys := make([]string, 0, len(r.Headers))
		for k := range r.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, r.Headers[k])
		}
	}

	if r.Body != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, r.Body)
	}

	for _, entry := range r.PreRedis {
		if !entry.Success {
			fmt.Fprintf(w, "%s redis %s: %s\n", warnStyle.Render("!"), entry.Key, entry.Error)
		}
	}
	writeSQL(w, "pre-sql", r.PreSQL)
	writeSQL(w, "post-sql", r.PostSQL)

	if len(r.Extracted) > 0 {
		fmt.Fprintln(w, "\nExtracted:")
		names := make([]string, 0, len(r.Extracted))
		for k := range r.Extracted {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(w, "  %s = %s\n", k, r.Extracted[k])
		}
	}

	if len(r.Assertions) > 0 {
		fmt.Fprintln(w, "\nAssertions:")
		for _, o := range r.Assertions {
			label := o.Rule.Label
			if label == "" {
				label = o.Rule.Kind
				if o.Rule.Path != "" {
					label += " " + o.Rule.Path
				}
			}
			fmt.Fprintf(w, "  %s %s: %s\n", verdict(o.Passed), label, o.Message)
		}
	}
	for _, d := range r.Diff {
		fmt.Fprintf(w, "    %s %s %s -> %s\n", mutedStyle.Render(d.Kind), d.Path, d.Expected, d.Actual)
	}

	if len(r.DBAssertions) > 0 {
		fmt.Fprintln(w, "\nDB assertions:")
		for _, o := range r.DBAssertions {
			fmt.Fprintf(w, "  %s %s", verdict(o.Passed), o.Label)
			if o.Message != "" {
				fmt.Fprintf(w, ": %s", o.Message)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)
}

func writeSQL(w io.Writer, label string, res *types.SQLResult) {
	if res == nil {
		return
	}
	if res.Success {
		fmt.Fprintf(w, "%s %s: %d statement(s)\n", mutedStyle.Render("·"), label, len(res.Statements))
		return
	}
	fmt.Fprintf(w, "%s %s: %s\n", failStyle.Render("!"), label, res.Error)
}

// WriteProgress renders a batch progress line
func WriteProgress(w io.Writer, p batch.Progress) {
	state := p.State
	switch p.State {
	case batch.StateCompleted:
		if p.Failed == 0 {
			state = passStyle.Render(state)
		} else {
			state = failStyle.Render(state)
		}
	case batch.StateStoppedEarly, batch.StateFailed:
		state = failStyle.Render(state)
	}
	fmt.Fprintf(w, "[%d/%d] %s passed=%d failed=%d\n", p.Completed, p.Total, state, p.Passed, p.Failed)
	if p.Error != "" {
		fmt.Fprintf(w, "  %s\n", p.Error)
	}
}

// WriteSnapshot renders a load test status
func WriteSnapshot(w io.Writer, s *loadtest.Snapshot, format string) error {
	if format == FormatJSON || format == FormatYAML {
		return Encode(w, s, format)
	}

	state := s.State
	if s.State == loadtest.StateError {
		state = failStyle.Render(state)
	} else if s.Terminal() {
		state = passStyle.Render(state)
	}
	fmt.Fprintf(w, "%s  %s  %s\n", titleStyle.Render(s.Name), mutedStyle.Render(s.JobID), state)
	fmt.Fprintf(w, "users=%d requests=%d failures=%d elapsed=%.1fs\n", s.ActiveUsers, s.TotalRequests, s.Failures, s.Elapsed)
	if s.Error != "" {
		fmt.Fprintf(w, "%s\n", failStyle.Render(s.Error))
	}
	return nil
}

// WriteReport renders a report; text mode adds colour to the verdict and grade
func WriteReport(w io.Writer, r *report.Report, format string) error {
	switch format {
	case FormatJSON, FormatYAML:
		return Encode(w, r, format)
	case report.FormatCSV:
		return report.WriteCSV(w, r)
	}

	if r.LoadTest != nil {
		style, ok := gradeStyles[r.LoadTest.Grade]
		if !ok {
			style = titleStyle
		}
		fmt.Fprintf(w, "Grade %s\n", style.Render(r.LoadTest.Grade))
	} else {
		fmt.Fprintf(w, "%s\n", verdict(r.Failed == 0 && r.Errors == 0 && r.Status == batch.StateCompleted))
	}
	return report.WriteText(w, r)
}

// WriteReportList renders stored reports as one line each
func WriteReportList(w io.Writer, reports []*report.Report, format string) error {
	if format == FormatJSON || format == FormatYAML {
		if reports == nil {
			reports = []*report.Report{}
		}
		return Encode(w, reports, format)
	}
	if len(reports) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no reports"))
		return nil
	}
	for _, r := range reports {
		summary := fmt.Sprintf("%d/%d passed", r.Passed, r.Total)
		if r.LoadTest != nil {
			summary = "grade " + r.LoadTest.Grade
		}
		fmt.Fprintf(w, "%s  %-9s %-14s %s  %s\n",
			r.ID, r.Kind, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), summary+"  "+r.Name)
	}
	return nil
}

// WriteHistory renders history entries as one line each
func WriteHistory(w io.Writer, entries []history.Entry, format string) error {
	if format == FormatJSON || format == FormatYAML {
		if entries == nil {
			entries = []history.Entry{}
		}
		return Encode(w, entries, format)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no history"))
		return nil
	}
	for _, e := range entries {
		status := statusStyle(e.Status).Render(fmt.Sprintf("%3d", e.Status))
		fmt.Fprintf(w, "%5d  %s  %s %s %-6s %s  %s\n",
			e.ID, e.Timestamp.Local().Format("2006-01-02 15:04:05"), verdict(e.Passed), status,
			e.Method, e.URL, mutedStyle.Render(executor.FormatDuration(e.DurationMs)))
	}
	return nil
}

// WriteHistoryStats renders per-endpoint aggregates as a table
func WriteHistoryStats(w io.Writer, stats []history.Stats, format string) error {
	if format == FormatJSON || format == FormatYAML {
		if stats == nil {
			stats = []history.Stats{}
		}
		return Encode(w, stats, format)
	}
	if len(stats) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no history"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tENDPOINT\tCALLS\tPASSED\tERRORS\tNETWORK\tAVG\tMIN\tMAX")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.0fms\t%dms\t%dms\n",
			s.Method, s.Endpoint, s.TotalCalls, s.PassedCount, s.ErrorCount, s.NetworkErrors,
			s.AvgDurationMs, s.MinDurationMs, s.MaxDurationMs)
	}
	return tw.Flush()
}

// WriteVariables renders the global variables
func WriteVariables(w io.Writer, vars []types.Variable, format string) error {
	if format == FormatJSON || format == FormatYAML {
		return Encode(w, vars, format)
	}
	for _, v := range vars {
		value := v.Value
		if v.IsDynamic() {
			value = mutedStyle.Render("<" + v.Value + ">")
		}
		fmt.Fprintf(w, "%s = %s", titleStyle.Render(v.Name), value)
		if v.Description != "" {
			fmt.Fprintf(w, "  %s", mutedStyle.Render(v.Description))
		}
		fmt.Fprintln(w)
	}
	return nil
}
