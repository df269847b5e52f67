package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks deposit account activity.
type Metrics struct {
	AccountsOpened prometheus.Counter
	Movements      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AccountsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_deposit_accounts_opened_total",
			Help: "Deposit accounts opened",
		}),
		Movements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_deposit_movements_total",
			Help: "Deposit account movements by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementOpened() {
	m.AccountsOpened.Inc()
}

func (m *Metrics) IncrementMovement(kind string) {
	m.Movements.WithLabelValues(kind).Inc()
}
