package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clipdeck"

// Registry is the Prometheus registry served on /metrics.
var Registry = prometheus.NewRegistry()

var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// RateLimitDecisions counts governor outcomes: admitted, blocked, fail_open.
var RateLimitDecisions = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Rate limit decisions by outcome",
	},
	[]string{"outcome"},
)

var RateLimitWindowsPruned = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_windows_pruned_total",
		Help:      "Idle rate limit windows removed by the prune job",
	},
)

// AccessLogEntries counts access log entries by result: written, dropped, failed.
var AccessLogEntries = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_log_entries_total",
		Help:      "Access log entries by result",
	},
	[]string{"result"},
)

var SessionsActive = promauto.With(Registry).NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "realtime_sessions_active",
		Help:      "Currently registered real-time sessions",
	},
)

// SessionHandshakes counts websocket handshakes by result: accepted, unauthorized, throttled, failed.
var SessionHandshakes = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_handshakes_total",
		Help:      "Websocket handshakes by result",
	},
	[]string{"result"},
)

var EventsDelivered = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_events_delivered_total",
		Help:      "Events handed to session send buffers",
	},
	[]string{"kind"},
)

// EventsDropped counts events not delivered, by reason: no_principal, buffer_full.
var EventsDropped = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_events_dropped_total",
		Help:      "Events dropped before delivery",
	},
	[]string{"kind", "reason"},
)

// RetentionSweeps counts sweep runs by result: success, empty, skipped, failed.
var RetentionSweeps = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_sweeps_total",
		Help:      "Retention sweep runs by result",
	},
	[]string{"result"},
)

var RetentionItemsPurged = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_items_purged_total",
		Help:      "Clipboard items deleted by the retention sweep",
	},
)

var RetentionFileErrors = promauto.With(Registry).NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_file_errors_total",
		Help:      "Backing files the retention sweep failed to remove",
	},
)

var RetentionDuration = promauto.With(Registry).NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retention_sweep_duration_seconds",
		Help:      "Duration of retention sweep runs in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	},
)

var ClipboardItemsCreated = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clipboard_items_created_total",
		Help:      "Clipboard items created by kind",
	},
	[]string{"kind"},
)

var initOnce sync.Once

// Init registers runtime collectors and sets version information.
func Init(version, commit, buildDate string) {
	initOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
