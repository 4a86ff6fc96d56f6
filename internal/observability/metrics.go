package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connect",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connect",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	connectionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connect",
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Connection request transitions by resulting status.",
		},
		[]string{"mode", "status"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connect",
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Wallet transfers by mode and outcome.",
		},
		[]string{"mode", "status"},
	)
	transferAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connect",
			Subsystem: "ledger",
			Name:      "transferred_minor_total",
			Help:      "Successfully transferred amount in minor units, by share.",
		},
		[]string{"share"},
	)
	deposits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connect",
			Subsystem: "ledger",
			Name:      "deposits_total",
			Help:      "Wallet deposits by outcome.",
		},
		[]string{"status"},
	)
	presenceChannels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connect",
			Subsystem: "presence",
			Name:      "channels",
			Help:      "Registered live presence channels.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionRequests,
			transfers, transferAmount, deposits,
			presenceChannels,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionRequest(mode, status string) {
	RegisterMetrics()
	connectionRequests.WithLabelValues(mode, status).Inc()
}

func RecordTransfer(mode, status string, counterpartShareMinor, platformShareMinor int64) {
	RegisterMetrics()
	transfers.WithLabelValues(mode, status).Inc()
	if counterpartShareMinor > 0 {
		transferAmount.WithLabelValues("counterpart").Add(float64(counterpartShareMinor))
	}
	if platformShareMinor > 0 {
		transferAmount.WithLabelValues("platform").Add(float64(platformShareMinor))
	}
}

func RecordDeposit(status string) {
	RegisterMetrics()
	deposits.WithLabelValues(status).Inc()
}

func SetPresenceChannels(n int) {
	RegisterMetrics()
	presenceChannels.Set(float64(n))
}
