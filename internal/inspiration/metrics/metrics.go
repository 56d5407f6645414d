package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for daily aggregate merges.
type Metrics struct {
	// Merge outcomes by status: incomplete, dispatched, already_notified, incomplete_overwrite.
	MergeOutcome *prometheus.CounterVec

	// Completion claim attempts by result: won, lost.
	ClaimAttempts *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MergeOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siraj_inspiration_merge_outcomes_total",
			Help: "Daily aggregate facet merges by outcome status",
		}, []string{"status"}),

		ClaimAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "siraj_inspiration_claim_attempts_total",
			Help: "Atomic completion claims by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementOutcome(status string) {
	if m != nil {
		m.MergeOutcome.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncrementClaim(won bool) {
	if m == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.ClaimAttempts.WithLabelValues(result).Inc()
}
