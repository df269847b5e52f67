package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks provisioning runs and the shape of the book they saw.
type Metrics struct {
	RunsPosted    prometheus.Counter
	LoansByClass  *prometheus.GaugeVec
	ProvisionHeld prometheus.Gauge
	RunDuration   prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsPosted: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_provisioning_runs_posted_total",
			Help: "Provisioning runs posted",
		}),
		LoansByClass: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "corebank_provisioning_loans",
			Help: "Active loans per class at the last posted run",
		}, []string{"class"}),
		ProvisionHeld: f.NewGauge(prometheus.GaugeOpts{
			Name: "corebank_provisioning_held",
			Help: "Total provision held after the last posted run",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corebank_provisioning_run_duration_seconds",
			Help:    "Duration of a provisioning run including posting",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) ObserveRun(start time.Time, byClass map[string]int, held float64) {
	m.RunsPosted.Inc()
	m.RunDuration.Observe(time.Since(start).Seconds())
	for class, n := range byClass {
		m.LoansByClass.WithLabelValues(class).Set(float64(n))
	}
	m.ProvisionHeld.Set(held)
}
