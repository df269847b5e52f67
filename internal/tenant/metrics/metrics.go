package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tenant module.
type Metrics struct {
	TenantCreated       prometheus.Counter
	StatusChanges       *prometheus.CounterVec
	StatusCheckDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TenantCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_tenants_created_total",
			Help: "Total number of tenants created",
		}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_tenant_status_changes_total",
			Help: "Tenant activations and deactivations by resulting status",
		}, []string{"status"}),
		StatusCheckDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corebank_tenant_status_check_duration_seconds",
			Help:    "Duration of the per-request tenant status check",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
	}
}

func (m *Metrics) IncrementTenantCreated() {
	m.TenantCreated.Inc()
}

func (m *Metrics) IncrementStatusChange(status string) {
	m.StatusChanges.WithLabelValues(status).Inc()
}

// ObserveStatusCheck records the duration of an IsTenantActive call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveStatusCheck(start time.Time) {
	m.StatusCheckDuration.Observe(time.Since(start).Seconds())
}
