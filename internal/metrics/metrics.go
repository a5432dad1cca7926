// Package metrics holds the Prometheus collectors for the counting bot.
//
// Collectors are created at package init so components can use them without
// a registry; Register exposes them on one at startup.
package metrics

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SubmissionsTotal counts validated counting messages, by result
	// (accepted, wrong_format, wrong_number).
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owo_counting_submissions_total",
			Help: "Counting submissions processed, by result.",
		},
		[]string{"result"},
	)

	// GoalPromotionsTotal counts automatic goal escalations.
	GoalPromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "owo_counting_goal_promotions_total",
			Help: "Total automatic goal promotions.",
		},
	)

	// PresentationUpdatesTotal counts external channel mutations, by kind
	// (rename, topic) and outcome (ok, error, skipped).
	PresentationUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owo_presentation_updates_total",
			Help: "Channel rename/topic updates, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	// StoreErrorsTotal counts failed backend operations, by operation.
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owo_store_errors_total",
			Help: "Failed persistence operations, by operation.",
		},
		[]string{"op"},
	)

	// QueueTaskDuration observes per-task latency of the serial queues.
	QueueTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owo_queue_task_duration_seconds",
			Help:    "Duration of queued tasks, by queue.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// HTTPRequestDuration observes health server latency, by endpoint,
	// method and status.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	// HTTPRequestsInFlight tracks health server requests being served.
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "owo_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	// HistoryReplayedTotal counts counts reconstructed from channel history.
	HistoryReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "owo_history_replayed_total",
			Help: "Total historical counts replayed at startup.",
		},
	)
)

var registerOnce sync.Once

// Register adds all collectors to reg. When pool is non-nil, pool gauges are
// registered too. Safe to call more than once; only the first call registers.
func Register(reg prometheus.Registerer, pool *pgxpool.Pool) {
	registerOnce.Do(func() {
		reg.MustRegister(
			SubmissionsTotal,
			GoalPromotionsTotal,
			PresentationUpdatesTotal,
			StoreErrorsTotal,
			QueueTaskDuration,
			HistoryReplayedTotal,
			HTTPRequestDuration,
			HTTPRequestsInFlight,
		)

		// DB pool gauges read live stats from pgxpool
		if pool != nil {
			reg.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Name: "owo_db_connection_pool_active",
						Help: "Number of active database connections.",
					},
					func() float64 { return float64(pool.Stat().AcquiredConns()) },
				),
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Name: "owo_db_connection_pool_idle",
						Help: "Number of idle database connections.",
					},
					func() float64 { return float64(pool.Stat().IdleConns()) },
				),
			)
		}
	})
}
