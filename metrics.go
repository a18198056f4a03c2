package synccore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lockAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synccore_lock_acquire_total",
		Help: "Section lock acquisition attempts by outcome.",
	}, []string{"outcome"}) // granted, contended, throttled, error

	heartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synccore_lock_heartbeat_failures_total",
		Help: "Heartbeats refused by the lock store (lock lost or stolen).",
	})

	poolRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synccore_pool_rejections_total",
		Help: "Connection acquisitions rejected because the pool was full.",
	})

	slowOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synccore_slow_operations_total",
		Help: "Operations exceeding the slow-operation threshold.",
	}, []string{"operation"})
)
