package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Channel outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics provides observability for the fan-out dispatcher.
type Metrics struct {
	// Per-channel outcomes: channel is in_app, push or email.
	ChannelOutcome *prometheus.CounterVec

	// Wall time of one Dispatch including the join.
	DispatchLatency prometheus.Histogram

	// Detached dispatches not yet finished.
	DetachedInFlight prometheus.Gauge
}

// New registers fan-out metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChannelOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siraj_fanout_channel_outcomes_total",
			Help: "Fan-out channel outcomes by channel and outcome",
		}, []string{"channel", "outcome"}),

		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "siraj_fanout_dispatch_duration_seconds",
			Help:    "Duration of a fan-out dispatch across all channels",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		DetachedInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "siraj_fanout_detached_in_flight",
			Help: "Detached dispatches currently running",
		}),
	}
}

func (m *Metrics) IncrementOutcome(channel, outcome string) {
	if m != nil {
		m.ChannelOutcome.WithLabelValues(channel, outcome).Inc()
	}
}

func (m *Metrics) ObserveDispatchLatency(d time.Duration) {
	if m != nil {
		m.DispatchLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncDetached() {
	if m != nil {
		m.DetachedInFlight.Inc()
	}
}

func (m *Metrics) DecDetached() {
	if m != nil {
		m.DetachedInFlight.Dec()
	}
}
