package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcome labels.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

var (
	// LedgerOperationDuration tracks the latency of ledger operations
	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "mindpoints_ledger_operation_duration_seconds",
			Help: "Duration of points ledger operations in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"operation", "status"},
	)

	// PointsMoved counts points credited (earn) and debited (redeem)
	PointsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mindpoints_points_total",
			Help: "Points moved through the ledger by transaction type",
		},
		[]string{"type"},
	)

	// RetryAttempts counts retries of transient ledger failures
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mindpoints_retry_attempts_total",
			Help: "Retries of ledger calls after transient failures",
		},
	)
)

// ObserveOperation records the duration and outcome of a ledger operation
func ObserveOperation(operation, status string, seconds float64) {
	LedgerOperationDuration.WithLabelValues(operation, status).Observe(seconds)
}

// AddPoints records points moved by a committed transaction
func AddPoints(txType string, points int) {
	PointsMoved.WithLabelValues(txType).Add(float64(points))
}
