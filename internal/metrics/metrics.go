package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels evaluations and reports that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels evaluations and reports that failed (store or
	// classifier issues).
	OutcomeError = "error"
)

var (
	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_vmhealth",
			Name:      "evaluations_total",
			Help:      "Total number of status evaluations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	evaluationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil_vmhealth",
			Name:      "evaluation_seconds",
			Help:      "Status evaluation latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10},
		},
	)

	completenessReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_vmhealth",
			Name:      "completeness_reports_total",
			Help:      "Total number of completeness reports produced, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	alertsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil_vmhealth",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired during evaluations, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches the vmhealth collectors to the supplied Prometheus
// registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		evaluationsTotal,
		evaluationDurationSeconds,
		completenessReportsTotal,
		alertsFiredTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvaluation records one status evaluation's duration and outcome.
func ObserveEvaluation(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	evaluationsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	evaluationDurationSeconds.Observe(duration.Seconds())
}

// ObserveCompleteness counts one completeness report by outcome.
func ObserveCompleteness(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	completenessReportsTotal.WithLabelValues(label).Inc()
}

// AlertFired counts one fired alert by severity.
func AlertFired(severity string) {
	alertsFiredTotal.WithLabelValues(severity).Inc()
}
