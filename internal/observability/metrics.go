package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "marine_depth"

// Metrics holds the Prometheus counters, histograms, and gauges for the pipeline.
type Metrics struct {
	// Upstream providers.
	ProviderRequests *prometheus.CounterVec   // labels: provider, kind={current,forecast,alerts,predictions,water_levels,met}, outcome={success,error,rate_limited,unsupported}
	ProviderDuration *prometheus.HistogramVec // labels: provider
	AllProvidersFail *prometheus.CounterVec   // labels: kind

	// Offline cache.
	CacheLookups *prometheus.CounterVec // labels: kind, result={hit,miss}
	CacheErrors  prometheus.Counter
	CachePurged  prometheus.Counter

	// Correction engine.
	ReadingsProcessed *prometheus.CounterVec // labels: reliability
	BatchDuration     prometheus.Histogram

	// Sync queue.
	SyncQueueDepth prometheus.Gauge
	SyncAttempts   *prometheus.CounterVec // labels: outcome={success,failure,purged}

	// Realtime distributor.
	ConnectionState     prometheus.Gauge
	Reconnects          prometheus.Counter
	Deliveries          *prometheus.CounterVec // labels: outcome={delivered,throttled,battery_dropped}
	HeartbeatRTT        prometheus.Histogram
	ActiveSubscriptions prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Upstream provider requests by provider, kind and outcome.",
		}, []string{"provider", "kind", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Upstream provider request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		AllProvidersFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "all_providers_failed_total",
			Help:      "Calls where every configured provider was skipped or failed.",
		}, []string{"kind"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Offline cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Local storage failures.",
		}),
		CachePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_purged_entries_total",
			Help:      "Expired cache entries removed by maintenance.",
		}),
		ReadingsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_processed_total",
			Help:      "Depth readings corrected, by reliability class.",
		}, []string{"reliability"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete correction batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		SyncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_queue_depth",
			Help:      "Outbound mutations waiting for the remote API.",
		}),
		SyncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_attempts_total",
			Help:      "Sync queue item outcomes.",
		}, []string{"outcome"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnect_attempts_total",
			Help:      "Reconnect attempts made by the realtime distributor.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_deliveries_total",
			Help:      "Update deliveries to subscriptions by outcome.",
		}, []string{"outcome"}),
		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "realtime_heartbeat_rtt_seconds",
			Help:      "Heartbeat round-trip time.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2.5},
		}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_active_subscriptions",
			Help:      "Active realtime subscriptions.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderDuration,
		m.AllProvidersFail,
		m.CacheLookups,
		m.CacheErrors,
		m.CachePurged,
		m.ReadingsProcessed,
		m.BatchDuration,
		m.SyncQueueDepth,
		m.SyncAttempts,
		m.ConnectionState,
		m.Reconnects,
		m.Deliveries,
		m.HeartbeatRTT,
		m.ActiveSubscriptions,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// OrNop returns m, or a fresh unregistered set when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return newMetrics()
	}
	return m
}
