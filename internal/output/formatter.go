package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/mobu/internal/flock"
	"github.com/wesleyorama2/mobu/internal/monkey"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	// FormatTable renders colored tables.
	FormatTable OutputFormat = "table"
	// FormatJSON renders indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatYAML renders YAML.
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", s)
	}
}

// Encode writes v as JSON or YAML.
func Encode(w io.Writer, format OutputFormat, v interface{}) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// Formatter renders flock views as tables.
type Formatter struct {
	Out    io.Writer
	Scheme *ColorScheme
}

// NewFormatter creates a formatter writing to out.
func NewFormatter(out io.Writer, scheme *ColorScheme) *Formatter {
	if scheme == nil {
		scheme = NoColorScheme()
	}
	return &Formatter{Out: out, Scheme: scheme}
}

// rate colors a success percentage: green when clean, red below 90%.
func (f *Formatter) rate(success, failure int64) string {
	pct := flock.SuccessRate(success, failure) + "%"
	switch {
	case failure == 0:
		return f.Scheme.Healthy.Sprint(pct)
	case success*10 < (success+failure)*9:
		return f.Scheme.Failed.Sprint(pct)
	default:
		return f.Scheme.Degraded.Sprint(pct)
	}
}

func startDate(start *time.Time) string {
	if start == nil {
		return "(not started)"
	}
	return start.UTC().Format("2006-01-02 15:04:05")
}

// Summaries prints one row per flock.
func (f *Formatter) Summaries(summaries []flock.Summary) error {
	if len(summaries) == 0 {
		fmt.Fprintln(f.Out, f.Scheme.Muted.Sprint("No flocks running"))
		return nil
	}

	table := tablewriter.NewWriter(f.Out)
	table.Header("Flock", "Business", "Monkeys", "Started", "Successes", "Failures", "Success rate")
	for _, s := range summaries {
		table.Append([]string{
			f.Scheme.Name.Sprint(s.Name),
			f.Scheme.Business.Sprint(string(s.Business)),
			strconv.Itoa(s.MonkeyCount),
			startDate(s.Start),
			strconv.FormatInt(s.SuccessCount, 10),
			strconv.FormatInt(s.FailureCount, 10),
			f.rate(s.SuccessCount, s.FailureCount),
		})
	}
	return table.Render()
}

// StatusLines prints the digest lines as the status reporter sends them.
func (f *Formatter) StatusLines(summaries []flock.Summary) {
	for _, s := range summaries {
		fmt.Fprintln(f.Out, s.StatusLine())
	}
}

// Detail prints a flock with its monkeys and phase latencies.
func (f *Formatter) Detail(d flock.Detail) error {
	fmt.Fprintf(f.Out, "%s  %s  %d monkey(s)  started %s  %s success\n",
		f.Scheme.Name.Sprint(d.Summary.Name),
		f.Scheme.Business.Sprint(string(d.Summary.Business)),
		d.Summary.MonkeyCount,
		startDate(d.Summary.Start),
		f.rate(d.Summary.SuccessCount, d.Summary.FailureCount))
	fmt.Fprintln(f.Out)

	monkeys := tablewriter.NewWriter(f.Out)
	monkeys.Header("Monkey", "State", "Successes", "Failures", "Error")
	for _, m := range d.Monkeys {
		monkeys.Append([]string{
			m.Name,
			f.state(m.State),
			strconv.FormatInt(m.Business.SuccessCount, 10),
			strconv.FormatInt(m.Business.FailureCount, 10),
			m.Error,
		})
	}
	if err := monkeys.Render(); err != nil {
		return err
	}

	if len(d.Phases) == 0 {
		return nil
	}
	fmt.Fprintln(f.Out)
	if o := d.Overall; o != nil && o.TotalEvents > 0 {
		fmt.Fprintf(f.Out, "%d phase(s) recorded, %d failed, p95 %s\n",
			o.TotalEvents, o.FailedEvents, formatDuration(o.Latency.P95))
	}

	names := make([]string, 0, len(d.Phases))
	for name := range d.Phases {
		names = append(names, name)
	}
	sort.Strings(names)

	phases := tablewriter.NewWriter(f.Out)
	phases.Header("Phase", "Count", "Failures", "Mean", "P50", "P95", "P99", "Max")
	for _, name := range names {
		p := d.Phases[name]
		phases.Append([]string{
			f.Scheme.Highlight.Sprint(name),
			strconv.FormatInt(p.Count, 10),
			strconv.FormatInt(p.Failures, 10),
			formatDuration(p.Mean),
			formatDuration(p.P50),
			formatDuration(p.P95),
			formatDuration(p.P99),
			formatDuration(p.Max),
		})
	}
	return phases.Render()
}

func (f *Formatter) state(s monkey.State) string {
	switch s {
	case monkey.StateRunning:
		return f.Scheme.Healthy.Sprint(s.String())
	case monkey.StateFailed:
		return f.Scheme.Failed.Sprint(s.String())
	case monkey.StateStopping:
		return f.Scheme.Degraded.Sprint(s.String())
	default:
		return f.Scheme.Muted.Sprint(s.String())
	}
}

// formatDuration formats a duration with appropriate units
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000)
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return d.Round(time.Second).String()
	}
}
