package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	abandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "reconciler",
		Name:      "abandoned_total",
		Help:      "Number of submitted batches never found landed within the retry budget.",
	})

	debitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "reconciler",
		Name:      "debits_total",
		Help:      "Number of vault debits applied from landed balance-updates.",
	})

	debitFeeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gasstation",
		Subsystem: "reconciler",
		Name:      "debited_fee_total",
		Help:      "Sum of fees, in mutez, debited from sponsor vaults.",
	})
)
