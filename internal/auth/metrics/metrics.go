package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for staff authentication.
type Metrics struct {
	LoginsSucceeded    prometheus.Counter
	LoginsFailed       *prometheus.CounterVec
	Logouts            prometheus.Counter
	UsersCreated       prometheus.Counter
	RevocationDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoginsSucceeded: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_auth_logins_total",
			Help: "Successful staff logins",
		}),
		LoginsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_auth_login_failures_total",
			Help: "Failed staff logins by reason",
		}, []string{"reason"}),
		Logouts: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_auth_logouts_total",
			Help: "Access tokens revoked by logout",
		}),
		UsersCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_auth_users_created_total",
			Help: "Staff users created",
		}),
		RevocationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corebank_auth_revocation_check_duration_seconds",
			Help:    "Latency of token revocation checks",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
	}
}

func (m *Metrics) IncrementLogin() {
	m.LoginsSucceeded.Inc()
}

func (m *Metrics) IncrementLoginFailure(reason string) {
	m.LoginsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementLogout() {
	m.Logouts.Inc()
}

func (m *Metrics) IncrementUserCreated() {
	m.UsersCreated.Inc()
}

// ObserveRevocationCheck records the duration of an IsTokenRevoked call.
func (m *Metrics) ObserveRevocationCheck(start time.Time) {
	m.RevocationDuration.Observe(time.Since(start).Seconds())
}
