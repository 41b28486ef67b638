package feed

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the ingestion loop per source.
type Metrics struct {
	eventsTotal       *prometheus.CounterVec
	decodeSkipsTotal  *prometheus.CounterVec
	reconnectsTotal   *prometheus.CounterVec
	subsystemFailures *prometheus.CounterVec
	opportunitiesSent prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Pool change events received per source.",
		}, []string{"source"}),
		decodeSkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_decode_skips_total",
			Help: "Events that could not be applied to the state cache.",
		}, []string{"source"}),
		reconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Reconnection attempts per source.",
		}, []string{"source"}),
		subsystemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_subsystem_failures_total",
			Help: "Sources that exhausted their retry budget.",
		}, []string{"source"}),
		opportunitiesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_opportunities_sent_total",
			Help: "Opportunities pushed to the downstream channel.",
		}),
	}
	reg.MustRegister(m.eventsTotal, m.decodeSkipsTotal, m.reconnectsTotal, m.subsystemFailures, m.opportunitiesSent)
	return m
}
