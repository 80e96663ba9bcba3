package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outcome of each /avatar/token request.
	SpeechTokenRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speech_token_requests_total",
			Help: "Total speech token requests by result.",
		},
		[]string{"result"}, // ok | missing_config | upstream_error
	)

	SpeechTokenUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speech_token_upstream_duration_seconds",
			Help:    "Duration of speech token issuance calls.",
			Buckets: prometheus.DefBuckets,
		},
	)

	RealtimeSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of open realtime bridge sessions.",
		},
	)

	RealtimeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_total",
			Help: "Messages relayed by the realtime bridge.",
		},
		[]string{"direction"}, // client_to_upstream | upstream_to_client
	)
)
