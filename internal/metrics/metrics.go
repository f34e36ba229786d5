package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	EventsApplied *prometheus.CounterVec
	Sends         *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	UnreadTotal   prometheus.Gauge
	CachedConvs   prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsesync",
			Name:      "events_applied_total",
			Help:      "Inbound stream events applied, by event name.",
		}, []string{"event"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsesync",
			Name:      "outbound_sends_total",
			Help:      "Outbound frames, by event name and outcome.",
		}, []string{"event", "outcome"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsesync",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts, by outcome.",
		}, []string{"outcome"}),
		UnreadTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsesync",
			Name:      "unread_messages",
			Help:      "Sum of unread counts across conversations.",
		}),
		CachedConvs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsesync",
			Name:      "cached_conversations",
			Help:      "Conversations with a message cache entry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.EventsApplied, m.Sends, m.Refreshes, m.UnreadTotal, m.CachedConvs)
	}
	return m
}

func (m *Metrics) EventApplied(name string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(name).Inc()
}

func (m *Metrics) Send(event string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Sends.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Refresh(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetUnread(total int) {
	if m == nil {
		return
	}
	m.UnreadTotal.Set(float64(total))
}

func (m *Metrics) SetCached(n int) {
	if m == nil {
		return
	}
	m.CachedConvs.Set(float64(n))
}
