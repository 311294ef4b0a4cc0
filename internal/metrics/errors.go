package metrics

import (
	"strconv"

	"github.com/labgate/labgate/internal/observability"
)

// Error metric names
const (
	APIErrorsTotal = "api_errors_total"
	PanicsTotal    = "panics_total"
)

// RecordAPIError counts an error envelope written by the HTTP API. Route
// is the matched route pattern, never the raw path, so lab ids and
// addresses do not become label values.
func RecordAPIError(route string, errorCode string, httpStatus int) {
	if observability.TelemetrySystem == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	_ = observability.TelemetrySystem.Counter(
		APIErrorsTotal,
		1,
		map[string]string{
			"route":       route,
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		},
	)
}

// RecordPanic counts a recovered handler panic.
func RecordPanic(route string) {
	if observability.TelemetrySystem == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, map[string]string{"route": route})
}
