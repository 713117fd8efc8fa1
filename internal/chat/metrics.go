package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "chat_requests_total",
			Help:      "Total chat requests by outcome",
		},
		[]string{"outcome"}, // "answered", "clarified", "limited", "failed", "rejected"
	)

	chatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "assistant",
			Name:      "chat_duration_seconds",
			Help:      "End-to-end duration of chat requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 100ms to ~100s
		},
	)

	clarificationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "clarifications_total",
			Help:      "Messages answered with a clarification prompt",
		},
	)

	historyFilesRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "assistant",
			Name:      "history_files_recovered_total",
			Help:      "Attachments recovered from earlier turns",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "assistant",
			Name:      "sessions_active",
			Help:      "Number of chat requests currently being processed",
		},
	)
)
