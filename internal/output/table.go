package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/labgate/labgate/internal/core"
)

// TableFormatter renders results as an ASCII table, or as a markdown table
// when Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatRecords renders reservations as a table.
func (f *TableFormatter) FormatRecords(result core.QueryResult[[]core.Record]) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Key", "Lab", "Owner", "Start", "End", "Status"})

	for _, record := range result.Items {
		t.AppendRow(table.Row{
			shortKey(string(record.Key)),
			record.LabID,
			record.OwnerAddress,
			formatTime(record.StartTime),
			formatTime(record.EndTime),
			record.Status.String(),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d reservation(s)", len(result.Items))})

	return f.render(t, sourceSummary(result), result.Warning), nil
}

// FormatProviders renders providers as a table.
func (f *TableFormatter) FormatProviders(result core.QueryResult[[]core.Provider]) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Address", "Name", "Email", "Country", "Auth URI"})

	for _, provider := range result.Items {
		t.AppendRow(table.Row{
			provider.Address,
			provider.Name,
			provider.Email,
			provider.Country,
			provider.AuthURI,
		})
	}

	return f.render(t, sourceSummary(result), result.Warning), nil
}

// FormatDiagnostics renders per-query diagnostics as a table.
func (f *TableFormatter) FormatDiagnostics(diags []core.Diagnostics) (string, error) {
	t := f.newWriter()
	t.AppendHeader(table.Row{"Query", "Cache Age", "Valid", "Snapshot", "Rate Limited", "Last Source", "Last Error"})

	for _, d := range diags {
		limited := "no"
		if d.RateLimited {
			limited = fmt.Sprintf("yes (%s)", formatAge(d.Cooldown))
		}
		t.AppendRow(table.Row{
			d.QueryID,
			formatAge(d.CacheAge),
			yesNo(d.CacheValid),
			yesNo(d.HasSnapshot),
			limited,
			string(d.LastSource),
			d.LastError,
		})
	}

	if len(diags) == 0 {
		return f.render(t, "no queries recorded", ""), nil
	}
	return f.render(t, "", ""), nil
}

func (f *TableFormatter) newWriter() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer, summary, warning string) string {
	var rendered string
	if f.Markdown {
		rendered = t.RenderMarkdown()
	} else {
		rendered = t.Render()
	}
	if summary != "" {
		rendered += "\n" + summary
	}
	if warning != "" {
		rendered += "\nwarning: " + warning
	}
	return rendered
}

func shortKey(key string) string {
	if len(key) <= 14 {
		return key
	}
	return key[:8] + "…" + key[len(key)-4:]
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
