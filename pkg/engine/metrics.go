package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RevontoStudiesTotal counts study runs by outcome (ok, empty, error).
	RevontoStudiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revonto_studies_total",
			Help: "Total number of reverse lookup studies run",
		},
		[]string{"outcome"},
	)

	// RevontoStudyCandidates tracks how many candidate products a study scored
	RevontoStudyCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revonto_study_candidates",
			Help:    "Number of candidate products scored per study",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// RevontoStudyDurationSeconds tracks wall time per study
	RevontoStudyDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revonto_study_duration_seconds",
			Help:    "Time spent running a study",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RevontoPValueErrorsTotal counts contingency tables the p-value strategy rejected
	RevontoPValueErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "revonto_pvalue_errors_total",
			Help: "Total number of p-value computations that failed",
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(RevontoStudiesTotal)
	prometheus.MustRegister(RevontoStudyCandidates)
	prometheus.MustRegister(RevontoStudyDurationSeconds)
	prometheus.MustRegister(RevontoPValueErrorsTotal)
}
