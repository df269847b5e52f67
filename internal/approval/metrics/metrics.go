package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the maker-checker workflow by request kind.
type Metrics struct {
	Submitted         *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	ExecutionFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_approval_submitted_total",
			Help: "Approval requests submitted",
		}, []string{"kind"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_approval_decisions_total",
			Help: "Approval requests leaving pending, by outcome",
		}, []string{"kind", "outcome"}),
		ExecutionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_approval_execution_failures_total",
			Help: "Approved requests whose executor returned an error",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementSubmitted(kind string) {
	m.Submitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementDecision(kind, outcome string) {
	m.Decisions.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) IncrementExecutionFailure(kind string) {
	m.ExecutionFailures.WithLabelValues(kind).Inc()
}
