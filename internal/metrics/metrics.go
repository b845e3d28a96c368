package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_dispatch_total",
			Help: "Dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_rate_limited_total",
			Help: "Dispatch attempts deferred by the per-recipient rate limiter",
		},
	)

	ProviderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_provider_errors_total",
			Help: "Provider failures by kind (rejected, transport)",
		},
		[]string{"kind"},
	)

	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whatsapp_send_duration_seconds",
			Help:    "Latency of provider send calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetriesExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whatsapp_retries_exhausted_total",
			Help: "Jobs abandoned after the retry cap",
		},
	)

	StatusCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whatsapp_status_callbacks_total",
			Help: "Inbound status callbacks by result (applied, unknown_sid, ignored)",
		},
		[]string{"result"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "whatsapp_queue_depth",
			Help: "Jobs per queue state",
		},
		[]string{"state"},
	)
)

func Init() {
	prometheus.MustRegister(Dispatches)
	prometheus.MustRegister(RateLimited)
	prometheus.MustRegister(ProviderErrors)
	prometheus.MustRegister(SendDuration)
	prometheus.MustRegister(RetriesExhausted)
	prometheus.MustRegister(StatusCallbacks)
	prometheus.MustRegister(QueueDepth)
}
