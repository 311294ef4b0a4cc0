// Package output renders query results and diagnostics for the CLI.
package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/labgate/labgate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders read-layer results.
type Formatter interface {
	FormatRecords(result core.QueryResult[[]core.Record]) (string, error)
	FormatProviders(result core.QueryResult[[]core.Provider]) (string, error)
	FormatDiagnostics(diags []core.Diagnostics) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatAge(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

// sourceSummary is the one-line provenance shown under every result table.
func sourceSummary[T any](result core.QueryResult[T]) string {
	summary := fmt.Sprintf("source: %s", result.Source)
	if !result.CapturedAt.IsZero() {
		summary += fmt.Sprintf(", captured %s (age %s)", formatTime(result.CapturedAt), formatAge(result.Age))
	}
	return summary
}
