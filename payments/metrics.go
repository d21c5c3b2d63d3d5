package payments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigflow",
		Subsystem: "gateway",
		Name:      "calls_total",
		Help:      "Payment gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	reconcileAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gigflow",
		Subsystem: "reconciler",
		Name:      "attempts_total",
		Help:      "Settlement attempts made by the escrow reconciler.",
	})

	reconcileRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gigflow",
		Subsystem: "reconciler",
		Name:      "recovered_total",
		Help:      "Escrows settled by the reconciler after a missed capture or refund.",
	})

	reconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gigflow",
		Subsystem: "reconciler",
		Name:      "failures_total",
		Help:      "Settlement attempts that failed and were left for the next sweep.",
	})
)
