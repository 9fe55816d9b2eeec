package subscription

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kili-technology/kili-python-sdk-sub002/metric"
)

// Metrics instruments websocket sessions and frame traffic. A nil *Metrics
// disables instrumentation; the socket guards every use.
type Metrics struct {
	sessionsStarted prometheus.Counter
	sessionsActive  prometheus.Gauge
	reconnectsTotal prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesDropped   prometheus.Counter
}

func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "subscription",
			Name:      "sessions_started_total",
			Help:      "Number of subscription sessions opened.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kili",
			Subsystem: "subscription",
			Name:      "sessions_active",
			Help:      "Number of subscription sessions currently registered.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "subscription",
			Name:      "reconnects_total",
			Help:      "Number of websocket reconnection attempts.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "subscription",
			Name:      "frames_received_total",
			Help:      "Server frames received, by frame type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kili",
			Subsystem: "subscription",
			Name:      "frames_dropped_total",
			Help:      "Data frames dropped because a session queue was full.",
		}),
	}

	registry.MustRegister("subscription", map[string]prometheus.Collector{
		"sessions_started_total": m.sessionsStarted,
		"sessions_active":        m.sessionsActive,
		"reconnects_total":       m.reconnectsTotal,
		"frames_received_total":  m.framesReceived,
		"frames_dropped_total":   m.framesDropped,
	})
	return m
}
