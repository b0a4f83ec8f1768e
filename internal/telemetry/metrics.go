package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insightd",
			Subsystem: "telemetry",
			Name:      "records_total",
			Help:      "Telemetry records emitted, by kind and destination sink",
		},
		[]string{"kind", "sink"},
	)

	sinkFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "insightd",
			Subsystem: "telemetry",
			Name:      "sink_failures_total",
			Help:      "Records a sink failed to accept and that fell back to the log",
		},
		[]string{"sink", "reason"},
	)

	degradedManagers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "insightd",
			Subsystem: "telemetry",
			Name:      "degraded",
			Help:      "1 when the serving manager last reported degraded health",
		},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "insightd",
			Subsystem: "telemetry",
			Name:      "operation_duration_seconds",
			Help:      "Duration of wrapped operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)
)

// ReportHealth publishes h on the process-wide degraded gauge. Only the
// process's serving manager should report, so managers built elsewhere,
// such as in tests, leave the gauge alone.
func ReportHealth(h HealthStatus) {
	if h.Degraded {
		degradedManagers.Set(1)
	} else {
		degradedManagers.Set(0)
	}
}
