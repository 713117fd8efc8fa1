package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "protocol_extractions_total",
		Help:      "Protocol extraction attempts by outcome.",
	}, []string{"result"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assistant",
		Name:      "protocol_step_transitions_total",
		Help:      "Protocol step transitions by target status and outcome.",
	}, []string{"status", "result"})
)
