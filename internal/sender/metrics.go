package sender

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway_sender",
			Name:      "messages_processed_total",
			Help:      "Total outbound messages processed by terminal outcome.",
		},
		[]string{"outcome"}, // sent, invalid_number, provider_error, retried, dead_lettered
	)

	dispatchDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway_sender",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of provider dispatch calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider_id"},
	)

	phoneValidationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway_sender",
			Name:      "phone_validations_total",
			Help:      "Phone validation outcomes.",
		},
		[]string{"result"}, // cache_hit, checked_valid, checked_invalid, transient_error
	)
)
