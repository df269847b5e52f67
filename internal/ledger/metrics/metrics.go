package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for GL posting.
type Metrics struct {
	JournalsPosted   *prometheus.CounterVec
	JournalsReversed prometheus.Counter
	PostingsRejected *prometheus.CounterVec
	PostDuration     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JournalsPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_ledger_journals_posted_total",
			Help: "Journals posted by source",
		}, []string{"source"}),
		JournalsReversed: f.NewCounter(prometheus.CounterOpts{
			Name: "corebank_ledger_journals_reversed_total",
			Help: "Journals reversed",
		}),
		PostingsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corebank_ledger_postings_rejected_total",
			Help: "Posting attempts rejected, by error code",
		}, []string{"code"}),
		PostDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corebank_ledger_post_duration_seconds",
			Help:    "Duration of journal posting including validation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncrementPosted(source string) {
	m.JournalsPosted.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementReversed() {
	m.JournalsReversed.Inc()
}

func (m *Metrics) IncrementRejected(code string) {
	m.PostingsRejected.WithLabelValues(code).Inc()
}

// ObservePost records a posting duration. Call with time.Now() taken at the start.
func (m *Metrics) ObservePost(start time.Time) {
	m.PostDuration.Observe(time.Since(start).Seconds())
}
