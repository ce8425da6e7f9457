// Package metrics holds the prometheus collectors shared by the executor,
// the cache policy and the session layer. They are registered with the
// default registry and served by the application's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "recsexplorer"

var (
	StageExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_executions_total",
		Help:      "The total number of stages run through an operation, by operation name.",
	}, []string{"operation"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "The total number of stage executions that returned an error, by operation name.",
	}, []string{"operation"})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "The total number of executions that resumed from a cached stage.",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "The total number of cache entries evicted to stay within the memory budget.",
	})

	StaleResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_results_dropped_total",
		Help:      "The total number of execution results discarded because a newer request superseded them.",
	})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock time of one executor call.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	SessionSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_saves_total",
		Help:      "The total number of session save attempts, by result.",
	}, []string{"result"})
)
