package graphql

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kili-technology/kili-python-sdk-sub002/metric"
)

// Metrics holds Prometheus metrics for the query client.
type Metrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    prometheus.Histogram
	retriesTotal       prometheus.Counter
	schemaRefreshTotal prometheus.Counter
	introspectionTotal prometheus.Counter
}

// newMetrics creates and registers query client metrics.
// Returns nil if no registry is provided (nil metrics = metrics disabled).
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "graphql",
			Name:      "requests_total",
			Help:      "Total GraphQL calls issued, by outcome",
		}, []string{"status"}),

		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kili",
			Subsystem: "graphql",
			Name:      "request_duration_seconds",
			Help:      "End-to-end duration of Execute calls, retries included",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),

		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "graphql",
			Name:      "retries_total",
			Help:      "Transient-failure retries performed",
		}),

		schemaRefreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "graphql",
			Name:      "schema_refreshes_total",
			Help:      "Stale-schema recoveries that replaced the schema handle",
		}),

		introspectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "graphql",
			Name:      "introspections_total",
			Help:      "Full introspection round trips against the endpoint",
		}),
	}

	registry.MustRegister("graphql", map[string]prometheus.Collector{
		"requests_total":           m.requestsTotal,
		"request_duration_seconds": m.requestDuration,
		"retries_total":            m.retriesTotal,
		"schema_refreshes_total":   m.schemaRefreshTotal,
		"introspections_total":     m.introspectionTotal,
	})

	return m
}
