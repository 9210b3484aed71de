// Package metrics provides Prometheus collectors for the bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tonometer"

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// Turns counts processed conversation turns by the state they started in.
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total conversation turns processed",
		},
		[]string{"state", "outcome"},
	)

	// Recoveries counts turns that fell back to the main menu on unexpected input.
	Recoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Turns routed to the recovery prompt",
		},
		[]string{"state"},
	)

	// StorageOperations counts durable record operations.
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Durable record operations",
		},
		[]string{"operation", "outcome"},
	)

	// StorageLatency tracks durable record operation latency.
	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Durable record operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// QueueDepth tracks messages waiting across all user queues.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Messages waiting to be processed",
		},
	)

	// ActiveSessions tracks conversation contexts held by the registry.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversation contexts currently tracked",
		},
	)
)

// ObserveStorage records one storage operation.
func ObserveStorage(operation string, start time.Time, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	StorageOperations.WithLabelValues(operation, outcome).Inc()
	StorageLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveTurn records one conversation turn.
func ObserveTurn(state string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	Turns.WithLabelValues(state, outcome).Inc()
}
