package util

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "consultrelay"

// RegisterStats exposes the Stats counters on reg. rooms reports the number
// of live rooms and is sampled on every scrape.
func RegisterStats(reg prometheus.Registerer, rooms func() int) error {
	counter := func(name, help string, v func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v()) })
	}
	gauge := func(name, help string, v func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, v)
	}

	collectors := []prometheus.Collector{
		counter("connections_admitted_total", "Connections that passed admission.", Stats.Admitted.Load),
		counter("connections_refused_total", "Connections refused for missing room or userType.", Stats.Refused.Load),
		counter("signals_relayed_total", "Offer, answer and candidate envelopes relayed.", Stats.Signals.Load),
		counter("chats_total", "Chat messages broadcast.", Stats.Chats.Load),
		counter("transcript_failures_total", "Transcript appends that failed.", Stats.PersistFailures.Load),
		counter("frames_dropped_total", "Inbound or outbound frames discarded.", Stats.Dropped.Load),
		gauge("connections_active", "Connections currently open.", func() float64 { return float64(Stats.Active()) }),
		gauge("rooms_active", "Rooms with at least one member.", func() float64 { return float64(rooms()) }),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
