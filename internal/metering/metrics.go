package metering

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	limitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "limit_checks_total",
			Help:      "Usage limit checks by outcome",
		},
		[]string{"result"}, // "allowed", "user_input", "org_output", ...
	)

	usageUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "usage_units_total",
			Help:      "Generation units recorded by the usage ledger",
		},
		[]string{"owner_kind", "direction"},
	)

	ledgerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "usage_ledger_errors_total",
			Help:      "Usage ledger backend failures (fail-open)",
		},
		[]string{"operation"},
	)

	ledgerPendingGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assistant",
			Name:      "usage_ledger_pending",
			Help:      "Usage increments waiting to be retried",
		},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "rate_limited_requests_total",
			Help:      "Chat requests rejected by the hourly rate limiter",
		},
	)
)
