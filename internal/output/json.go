package output

import (
	"encoding/json"
	"time"

	"github.com/labgate/labgate/internal/core"
)

// JSONFormatter renders results as JSON in the same shape the HTTP API uses.
type JSONFormatter struct {
	Indent bool
}

type queryPayload struct {
	Items      any        `json:"items"`
	Source     string     `json:"source"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	AgeSeconds float64    `json:"age_seconds"`
	Warning    string     `json:"warning,omitempty"`
}

// FormatRecords renders reservations as JSON.
func (f *JSONFormatter) FormatRecords(result core.QueryResult[[]core.Record]) (string, error) {
	return f.marshal(newQueryPayload(result))
}

// FormatProviders renders providers as JSON.
func (f *JSONFormatter) FormatProviders(result core.QueryResult[[]core.Provider]) (string, error) {
	return f.marshal(newQueryPayload(result))
}

// FormatDiagnostics renders diagnostics as JSON.
func (f *JSONFormatter) FormatDiagnostics(diags []core.Diagnostics) (string, error) {
	if diags == nil {
		diags = []core.Diagnostics{}
	}
	return f.marshal(map[string]any{"queries": diags})
}

func (f *JSONFormatter) marshal(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func newQueryPayload[T any](result core.QueryResult[T]) queryPayload {
	payload := queryPayload{
		Items:      result.Items,
		Source:     string(result.Source),
		AgeSeconds: result.Age.Seconds(),
		Warning:    result.Warning,
	}
	if !result.CapturedAt.IsZero() {
		captured := result.CapturedAt
		payload.CapturedAt = &captured
	}
	return payload
}
