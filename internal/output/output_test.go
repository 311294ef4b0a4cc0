package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/labgate/labgate/internal/core"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleRecords() core.QueryResult[[]core.Record] {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return core.QueryResult[[]core.Record]{
		Items: []core.Record{
			{
				Key:          "0x9f2c000000000000000000000000000000000000000000000000000000001a2b",
				LabID:        "7",
				OwnerAddress: "0x00000000000000000000000000000000000000a1",
				StartTime:    start,
				EndTime:      start.Add(time.Hour),
				Status:       core.StatusBooked,
			},
		},
		Source:     core.SourceExtended,
		CapturedAt: start.Add(-time.Minute),
		Age:        95 * time.Second,
		Warning:    "serving cached data",
	}
}

func TestTableFormatterRecords(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatRecords(sampleRecords())
	require.NoError(t, err)
	require.Contains(t, rendered, "OWNER")
	require.Contains(t, rendered, "0x00000000000000000000000000000000000000a1")
	require.Contains(t, rendered, "booked")
	require.Contains(t, rendered, "2025-06-01T09:00:00Z")
	require.Contains(t, rendered, "1 reservation(s)")
	require.Contains(t, rendered, "source: extended")
	require.Contains(t, rendered, "age 1m35s")
	require.Contains(t, rendered, "warning: serving cached data")
	require.NotContains(t, rendered, "000000000000000000001a2b")
}

func TestMarkdownFormatterRecords(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown).FormatRecords(sampleRecords())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "|"))
	require.Contains(t, rendered, "booked")
}

func TestJSONFormatterRecords(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatRecords(sampleRecords())
	require.NoError(t, err)

	var payload struct {
		Items      []core.Record `json:"items"`
		Source     string        `json:"source"`
		AgeSeconds float64       `json:"age_seconds"`
		Warning    string        `json:"warning"`
	}
	require.NoError(t, json.Unmarshal([]byte(rendered), &payload))
	require.Equal(t, "extended", payload.Source)
	require.Len(t, payload.Items, 1)
	require.Equal(t, "7", payload.Items[0].LabID)
	require.InDelta(t, 95.0, payload.AgeSeconds, 0.001)
	require.Equal(t, "serving cached data", payload.Warning)
}

func TestFormatProviders(t *testing.T) {
	result := core.QueryResult[[]core.Provider]{
		Items:  []core.Provider{{Address: "0xabc", Name: "Optics Lab", Country: "ES"}},
		Source: core.SourceFallback,
	}

	rendered, err := NewFormatter(FormatTable).FormatProviders(result)
	require.NoError(t, err)
	require.Contains(t, rendered, "Optics Lab")
	require.Contains(t, rendered, "source: fallback")
	require.NotContains(t, rendered, "captured")

	rendered, err = NewFormatter(FormatJSON).FormatProviders(result)
	require.NoError(t, err)
	require.Contains(t, rendered, "\"name\": \"Optics Lab\"")
	require.NotContains(t, rendered, "captured_at")
}

func TestFormatDiagnostics(t *testing.T) {
	diags := []core.Diagnostics{
		{
			QueryID:     "lab:7",
			CacheAge:    12 * time.Second,
			CacheValid:  true,
			HasSnapshot: true,
			RateLimited: true,
			Cooldown:    6 * time.Second,
			LastSource:  core.SourceFresh,
		},
	}

	rendered, err := NewFormatter(FormatTable).FormatDiagnostics(diags)
	require.NoError(t, err)
	require.Contains(t, rendered, "lab:7")
	require.Contains(t, rendered, "12s")
	require.Contains(t, rendered, "yes (6s)")

	rendered, err = NewFormatter(FormatTable).FormatDiagnostics(nil)
	require.NoError(t, err)
	require.Contains(t, rendered, "no queries recorded")

	rendered, err = NewFormatter(FormatJSON).FormatDiagnostics(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"queries":[]}`, rendered)
}
