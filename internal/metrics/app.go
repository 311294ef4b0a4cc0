package metrics

import (
	"strconv"
	"time"

	"github.com/labgate/labgate/internal/observability"
)

// Read-layer metrics following Prometheus conventions
var (
	// Degradation chain
	ReadSourceTotal         = "read_source_total"
	CacheInvalidationsTotal = "cache_invalidations_total"

	// Upstream calls
	UpstreamCallsTotal    = "upstream_calls_total"
	UpstreamRetriesTotal  = "upstream_retries_total"
	RateLimitSignalsTotal = "rate_limit_signals_total"
	BatchItemsTotal       = "batch_items_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// RecordReadSource counts which stage of the chain answered a query.
func RecordReadSource(collection string, source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ReadSourceTotal,
			1,
			map[string]string{
				"collection": collection,
				"source":     source,
			},
		)
	}
}

// RecordCacheInvalidation counts snapshots dropped by an explicit invalidation
func RecordCacheInvalidation(collection string, count int) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheInvalidationsTotal,
			float64(count),
			map[string]string{"collection": collection},
		)
	}
}

// RecordUpstreamCall records one attempt against an endpoint tier
func RecordUpstreamCall(tier int, status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamCallsTotal,
			1,
			map[string]string{
				"tier":   strconv.Itoa(tier),
				"status": status,
			},
		)
	}
}

// RecordRetry records a retry of an idempotent read
func RecordRetry() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(UpstreamRetriesTotal, 1, nil)
	}
}

// RecordRateLimitSignal records a rate-limit response from the upstream
func RecordRateLimitSignal() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitSignalsTotal, 1, nil)
	}
}

// RecordBatchItems records the outcome of one batch fetch
func RecordBatchItems(succeeded int, failed int) {
	if observability.TelemetrySystem == nil {
		return
	}
	if succeeded > 0 {
		_ = observability.TelemetrySystem.Counter(
			BatchItemsTotal,
			float64(succeeded),
			map[string]string{"status": "success"},
		)
	}
	if failed > 0 {
		_ = observability.TelemetrySystem.Counter(
			BatchItemsTotal,
			float64(failed),
			map[string]string{"status": "failure"},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
