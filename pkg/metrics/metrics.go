package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Admission metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_requests_total",
			Help: "Submit requests by outcome status code",
		},
		[]string{"status"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	RateLimitEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushgate_rate_limit_entries",
			Help: "Live fixed-window rate limit entries",
		},
	)

	NonceRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pushgate_nonce_rejected_total",
			Help: "Requests rejected for nonce reuse",
		},
	)

	// Delivery metrics
	TokensSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_tokens_sent_total",
			Help: "Device tokens delivered by platform",
		},
		[]string{"platform"},
	)

	TokensFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_tokens_failed_total",
			Help: "Device tokens that failed delivery by platform",
		},
		[]string{"platform"},
	)

	TokensInvalidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_tokens_invalid_total",
			Help: "Device tokens classified permanently undeliverable by platform",
		},
		[]string{"platform"},
	)

	// APNsInFlight samples concurrent pushes per tenant provider, bounded
	// by the APNS_MAX_LISTENERS semaphore to keep HTTP/2 stream pressure
	// per connection under control.
	APNsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pushgate_apns_in_flight",
			Help: "In-flight APNs pushes by tenant",
		},
		[]string{"app_id"},
	)

	ProvidersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pushgate_providers_active",
			Help: "Cached provider clients by platform",
		},
		[]string{"platform"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RateLimitedTotal,
		RateLimitEntries,
		NonceRejectedTotal,
		TokensSentTotal,
		TokensFailedTotal,
		TokensInvalidTotal,
		APNsInFlight,
		ProvidersActive,
	)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
