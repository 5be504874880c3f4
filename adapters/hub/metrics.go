package hub

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connections prometheus.Gauge
	broadcasts  *prometheus.CounterVec
	skipped     prometheus.Counter
	evictions   prometheus.Counter
	inbound     *prometheus.CounterVec
	cacheErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intelhub",
			Name:      "connections",
			Help:      "Number of currently registered connections.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelhub",
			Name:      "broadcasts_total",
			Help:      "Broadcasts submitted, by channel.",
		}, []string{"channel"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelhub",
			Name:      "deliveries_skipped_total",
			Help:      "Messages dropped because the connection was not writable.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelhub",
			Name:      "evictions_total",
			Help:      "Connections removed by the liveness sweep.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intelhub",
			Name:      "inbound_messages_total",
			Help:      "Inbound client messages, by type.",
		}, []string{"type"}),
		cacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intelhub",
			Name:      "cache_errors_total",
			Help:      "Snapshot lookups that failed and were answered with an empty result.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.broadcasts, m.skipped, m.evictions, m.inbound, m.cacheErrors)
	}
	return m
}
