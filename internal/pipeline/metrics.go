package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Run results recorded on RunsTotal.
const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultRejected  = "rejected"
)

var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs by result.",
	}, []string{"result"})

	PassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "pass_duration_seconds",
		Help:      "Duration of each pipeline pass in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	}, []string{"pass"})

	TransactionsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "transactions_scored_total",
		Help:      "Transactions scored by pipeline runs.",
	})

	TransactionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "transactions_skipped_total",
		Help:      "Transactions skipped for an incomplete context.",
	})

	CasesFiled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "cases_filed_total",
		Help:      "Cases filed by case type.",
	}, []string{"case_type"})

	CasesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "pipeline",
		Name:      "cases_duplicate_total",
		Help:      "Case candidates suppressed because the case already existed.",
	})
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		PassDuration,
		TransactionsScored,
		TransactionsSkipped,
		CasesFiled,
		CasesDuplicate,
	)
}
