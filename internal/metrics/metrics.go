package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_deliveries_total",
			Help: "Total number of delivery attempts by resulting status.",
		},
		[]string{"status", "tenant_id"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DeadLettersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hookrelay_dead_letters_total",
			Help: "Total number of deliveries that exhausted their attempts.",
		},
	)

	DeliveryLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "End-to-end latency of webhook HTTP sends.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	DueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookrelay_due_backlog",
			Help: "Deliveries currently due for dispatch.",
		},
	)

	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookrelay_dispatch_cycles_total",
			Help: "Total dispatcher cycles by result.",
		},
		[]string{"result"}, // ok, error
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(DeliveriesTotal, RetriesTotal, DeadLettersTotal, DeliveryLatencySeconds, DueBacklog, CyclesTotal)
}

// RecordDelivery counts one delivery attempt outcome and its latency.
func RecordDelivery(status, tenantID string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status, tenantID).Inc()
	if latency > 0 {
		DeliveryLatencySeconds.WithLabelValues(tenantID).Observe(latency.Seconds())
	}
}

func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

func RecordDeadLetter() {
	DeadLettersTotal.Inc()
}

func RecordCycle(result string) {
	CyclesTotal.WithLabelValues(result).Inc()
}

func UpdateDueBacklog(n float64) {
	DueBacklog.Set(n)
}

// ClassifyFailure buckets a failed attempt for the retries_total reason label.
func ClassifyFailure(err error, status int) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return "timeout"
		case strings.Contains(msg, "connection refused"):
			return "connection_refused"
		case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
			return "dns_error"
		default:
			return "network"
		}
	}
	switch {
	case status >= 500:
		return "http_5xx"
	case status == 429:
		return "http_429"
	case status >= 400:
		return "http_4xx"
	default:
		return "other"
	}
}
