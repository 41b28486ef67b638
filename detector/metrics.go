package detector

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the detection hot path.
type Metrics struct {
	eventsTotal        prometheus.Counter
	routesEvaluated    prometheus.Counter
	opportunitiesTotal prometheus.Counter
	detectDuration     *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_events_total",
			Help: "Pool change events passed to the detector.",
		}),
		routesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_routes_evaluated_total",
			Help: "Candidate routes simulated across all events.",
		}),
		opportunitiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "detector_opportunities_total",
			Help: "Events that produced at least one profitable route.",
		}),
		detectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "detector_detect_duration_seconds",
			Help:    "Wall time of a full detection pass.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, nil),
	}
	reg.MustRegister(m.eventsTotal, m.routesEvaluated, m.opportunitiesTotal, m.detectDuration)
	return m
}
