package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// dataset builder.
type Metrics struct {
	FetchRequests *prometheus.CounterVec   // labels: source={climate,events}, outcome={success,retry,absent,error}
	FetchDuration *prometheus.HistogramVec // labels: source={climate,events}

	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,corrupt}

	SamplesBuilt     prometheus.Counter
	DroppedDates     prometheus.Counter
	SamplesPublished prometheus.Counter

	AssemblyDuration prometheus.Histogram
	DatasetReady     prometheus.Gauge
}

// NewMetrics creates and registers all builder metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.CacheLookups,
		m.SamplesBuilt,
		m.DroppedDates,
		m.SamplesPublished,
		m.AssemblyDuration,
		m.DatasetReady,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tornado_dataset",
			Name:      "fetch_requests_total",
			Help:      "Remote archive requests by source and outcome.",
		}, []string{"source", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tornado_dataset",
			Name:      "fetch_duration_seconds",
			Help:      "Remote archive request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tornado_dataset",
			Name:      "cache_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		SamplesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tornado_dataset",
			Name:      "samples_built_total",
			Help:      "Total dataset rows assembled from remote sources.",
		}),
		DroppedDates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tornado_dataset",
			Name:      "dropped_dates_total",
			Help:      "Dates dropped for lack of climate coverage.",
		}),
		SamplesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tornado_dataset",
			Name:      "samples_published_total",
			Help:      "Dataset rows published to the Kafka sink.",
		}),
		AssemblyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tornado_dataset",
			Name:      "assembly_duration_seconds",
			Help:      "Duration of a complete fetch-aggregate-merge-save cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		DatasetReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tornado_dataset",
			Name:      "dataset_ready",
			Help:      "1 once a dataset has been assembled or loaded from cache.",
		}),
	}
}
