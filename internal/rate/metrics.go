package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	remainingGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gomow_rate_limit_remaining_day",
			Help: "Requests the provider reports left for the day",
		},
		[]string{"provider"},
	)
	cooldownGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gomow_rate_limit_cooldown_until_timestamp_seconds",
			Help: "End of the current provider cooldown",
		},
		[]string{"provider"},
	)
	lastStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gomow_rate_limit_last_status_code",
			Help: "Last HTTP status code observed by the rate-limit wrapper",
		},
		[]string{"provider"},
	)
	blockedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gomow_rate_limit_blocked_total",
			Help: "Requests refused locally by the rate-limit wrapper",
		},
		[]string{"provider", "reason"},
	)
)

// MetricsCollectors exposes shared rate-limit collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		remainingGauge,
		cooldownGauge,
		lastStatusGauge,
		blockedCounter,
	}
}
