package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics grounded on the promauto.NewCounter/NewHistogram pattern in
// prysmaticlabs-prysm's execution_payload.go — one registry-backed counter
// pair per tick outcome instead of hand-rolled int64 fields, so operators
// can scrape batch health the same way they would scrape any other Go
// service wired to /metrics.
var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Number of flush ticks the batch scheduler has run.",
	})

	candidatesPerTick = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gasstation",
		Subsystem: "scheduler",
		Name:      "candidates_per_tick",
		Help:      "Number of senders pending at the start of a tick.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	acceptedPerTick = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gasstation",
		Subsystem: "scheduler",
		Name:      "accepted_per_tick",
		Help:      "Number of senders that survived simulation and were submitted in a tick's batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	})

	evictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "scheduler",
		Name:      "evicted_total",
		Help:      "Number of senders evicted from a batch after failing incremental simulation; only ticks whose batch is submitted are counted.",
	})

	batchesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "scheduler",
		Name:      "batches_submitted_total",
		Help:      "Number of batches successfully submitted to the chain.",
	})
)

// recordBatchSubmitted observes a tick that ended in a successful submit:
// how many senders survived into the batch versus how many were evicted
// along the way.
func recordBatchSubmitted(candidates, accepted int) {
	acceptedPerTick.Observe(float64(accepted))
	if evicted := candidates - accepted; evicted > 0 {
		evictedTotal.Add(float64(evicted))
	}
	batchesSubmittedTotal.Inc()
}
