package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type httpMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// LendingMetrics tracks ledger operations and liquidation activity.
type LendingMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	liquidated  *prometheus.CounterVec
	seized      *prometheus.CounterVec
	discount    prometheus.Histogram
	auctionsNew prometheus.Counter
}

var (
	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// HTTP returns the lazily-initialised registry recording API traffic.
func HTTP() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "isolend",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "http",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			httpRegistry.requests,
			httpRegistry.latency,
			httpRegistry.throttles,
		)
	})
	return httpRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *httpMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = labelRoute(route)
	m.requests.WithLabelValues(route, statusLabel(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the route.
func (m *httpMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(labelRoute(route)).Inc()
}

// Lending returns the lazily-initialised ledger metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Latency of ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			liquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "liquidations_total",
				Help:      "Liquidation settlements segmented by whether the position closed.",
			}, []string{"closed"}),
			seized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "collateral_seized_total",
				Help:      "Collateral transferred to liquidators, in whole units of the asset.",
			}, []string{"asset"}),
			discount: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "liquidation_discount_bps",
				Help:      "Discount applied to liquidation settlements in basis points.",
				Buckets:   []float64{250, 500, 750, 1000, 1250, 1500, 1750, 2000, 2500},
			}),
			auctionsNew: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "isolend",
				Subsystem: "ledger",
				Name:      "auctions_opened_total",
				Help:      "Liquidation auctions opened.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.liquidated,
			lendingRegistry.seized,
			lendingRegistry.discount,
			lendingRegistry.auctionsNew,
		)
	})
	return lendingRegistry
}

// Observe records the outcome and latency of a ledger operation.
func (m *LendingMetrics) Observe(action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	action = strings.TrimSpace(action)
	if action == "" {
		action = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAuctionOpened increments the auction counter.
func (m *LendingMetrics) RecordAuctionOpened() {
	if m == nil {
		return
	}
	m.auctionsNew.Inc()
}

// RecordLiquidation tracks a settlement. seized is expressed in the asset's
// smallest unit with 18 decimals.
func (m *LendingMetrics) RecordLiquidation(asset string, seized *big.Int, discountBps uint64, closed bool) {
	if m == nil {
		return
	}
	closedLabel := "false"
	if closed {
		closedLabel = "true"
	}
	m.liquidated.WithLabelValues(closedLabel).Inc()
	m.discount.Observe(float64(discountBps))
	if value := bigToFloat(seized); value > 0 {
		m.seized.WithLabelValues(labelAsset(asset)).Add(value / 1e18)
	}
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

func labelRoute(route string) string {
	trimmed := strings.TrimSpace(route)
	if trimmed == "" {
		return "unmatched"
	}
	return trimmed
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
