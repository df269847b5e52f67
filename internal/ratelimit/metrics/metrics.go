package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  prometheus.Counter
	DegradedMode prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_ratelimit_decisions_total",
			Help: "Rate limit decisions by outcome and key scope",
		}, []string{"outcome", "scope"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_ratelimit_store_errors_total",
			Help: "Failed calls to the primary rate limit store",
		}),
		DegradedMode: f.NewGauge(prometheus.GaugeOpts{
			Name: "corebank_ratelimit_degraded",
			Help: "1 while the in-memory fallback serves rate limit checks",
		}),
	}
}

func (m *Metrics) IncrementDecision(allowed bool, scope string) {
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.Decisions.WithLabelValues(outcome, scope).Inc()
}

func (m *Metrics) IncrementStoreError() {
	m.StoreErrors.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if degraded {
		m.DegradedMode.Set(1)
		return
	}
	m.DegradedMode.Set(0)
}
