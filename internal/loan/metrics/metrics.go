package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the loan lifecycle.
type Metrics struct {
	LoansApplied     prometheus.Counter
	LoansDisbursed   prometheus.Counter
	LoansClosed      prometheus.Counter
	LoansWrittenOff  prometheus.Counter
	Repayments       *prometheus.CounterVec
	RepaymentsReplay prometheus.Counter
	RepayDuration    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LoansApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_loan_applied_total",
			Help: "Loan applications accepted",
		}),
		LoansDisbursed: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_loan_disbursed_total",
			Help: "Loans disbursed",
		}),
		LoansClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_loan_closed_total",
			Help: "Loans closed by full repayment",
		}),
		LoansWrittenOff: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_loan_written_off_total",
			Help: "Loans written off",
		}),
		Repayments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_loan_repayments_total",
			Help: "Repayments applied by channel",
		}, []string{"channel"}),
		RepaymentsReplay: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_loan_repayments_replayed_total",
			Help: "Repayments whose reference had already been applied",
		}),
		RepayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corebank_loan_repay_duration_seconds",
			Help:    "Duration of repayment allocation and posting",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementApplied()    { m.LoansApplied.Inc() }
func (m *Metrics) IncrementDisbursed()  { m.LoansDisbursed.Inc() }
func (m *Metrics) IncrementClosed()     { m.LoansClosed.Inc() }
func (m *Metrics) IncrementWrittenOff() { m.LoansWrittenOff.Inc() }

func (m *Metrics) IncrementRepayment(channel string) {
	m.Repayments.WithLabelValues(channel).Inc()
}

func (m *Metrics) IncrementReplay() {
	m.RepaymentsReplay.Inc()
}

func (m *Metrics) ObserveRepay(start time.Time) {
	m.RepayDuration.Observe(time.Since(start).Seconds())
}
