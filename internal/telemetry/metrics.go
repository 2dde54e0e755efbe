package telemetry

import "github.com/prometheus/client_golang/prometheus"

var LeasesExpiredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "leases",
		Name:      "expired_total",
		Help:      "Total number of leases reclaimed after expiry.",
	},
)

var RunsCancelledTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "runs",
		Name:      "cancelled_total",
		Help:      "Total number of runs cancelled by the stuck-run cleaner.",
	},
)

var TasksRequeuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "tasks",
		Name:      "requeued_total",
		Help:      "Total number of tasks requeued, by reason.",
	},
	[]string{"reason"},
)

var TasksEscalatedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "tasks",
		Name:      "escalated_total",
		Help:      "Total number of tasks escalated to a human, by reason.",
	},
	[]string{"reason"},
)

var AnomaliesReportedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "anomalies",
		Name:      "reported_total",
		Help:      "Total number of anomalies reported, by type and severity.",
	},
	[]string{"type", "severity"},
)

var CostTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cyclemanager",
		Subsystem: "cost",
		Name:      "tokens_total",
		Help:      "Total tokens consumed by completed runs, by status.",
	},
	[]string{"status"},
)

var CycleDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cyclemanager",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one orchestrator tick, by tick kind.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"tick"},
)

// All returns every cycle-manager metric for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		LeasesExpiredTotal,
		RunsCancelledTotal,
		TasksRequeuedTotal,
		TasksEscalatedTotal,
		AnomaliesReportedTotal,
		CostTokensTotal,
		CycleDurationSeconds,
	}
}
