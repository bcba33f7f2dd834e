package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "citypulse"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Collection loading.
	CollectionFetches       *prometheus.CounterVec   // labels: collection, outcome={ok,error}
	CollectionFetchDuration *prometheus.HistogramVec // labels: collection
	RecordsDropped          *prometheus.CounterVec   // labels: collection

	// Realtime merge.
	RealtimeChanges    *prometheus.CounterVec // labels: collection, type={INSERT,UPDATE,DELETE}
	RealtimeReconnects *prometheus.CounterVec // labels: collection

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse,tile}
	GeocodeEnabled     prometheus.Gauge

	RelayRequests  *prometheus.CounterVec // labels: relay={community,chat}, outcome
	SessionsActive prometheus.Gauge
	Searches       *prometheus.CounterVec // labels: outcome={ok,empty,no_results,error,superseded}
}

func newMetrics() *Metrics {
	return &Metrics{
		CollectionFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_fetch_total",
			Help:      "Collection loads by collection and outcome.",
		}, []string{"collection", "outcome"}),
		CollectionFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_fetch_duration_seconds",
			Help:      "Duration of a single collection load.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 12},
		}, []string{"collection"}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Backend rows dropped because they could not be decoded.",
		}, []string{"collection"}),
		RealtimeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_changes_total",
			Help:      "Realtime change notifications merged, by collection and type.",
		}, []string{"collection", "type"}),
		RealtimeReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Realtime resubscriptions after a feed failure.",
		}, []string{"collection"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when Mapbox is configured, 0 otherwise.",
		}),
		RelayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Webhook relay requests by relay and outcome.",
		}, []string{"relay", "outcome"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Map sessions currently held in memory.",
		}),
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Place searches by outcome.",
		}, []string{"outcome"}),
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.CollectionFetches,
		m.CollectionFetchDuration,
		m.RecordsDropped,
		m.RealtimeChanges,
		m.RealtimeReconnects,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.RelayRequests,
		m.SessionsActive,
		m.Searches,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
