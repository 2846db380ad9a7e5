package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP 层的通用指标；业务指标在各自的 internal 包里
var (
	RateLimitBlockTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nasdaqstream",
			Subsystem: "http",
			Name:      "ratelimit_block_total",
			Help:      "Total number of requests rejected by the per-IP rate limiter.",
		},
		[]string{"route"},
	)

	PanicRecoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nasdaqstream",
			Subsystem: "http",
			Name:      "panic_recovered_total",
			Help:      "Total number of handler panics recovered by middleware.",
		},
		[]string{"route"},
	)
)
