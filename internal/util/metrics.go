package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CounterAllocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "counter_allocations_total",
		Help: "Total number of counter operations by counter name and operation",
	}, []string{"name", "op"})

	CounterGapFillRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "counter_gap_fill_retries_total",
		Help: "Total number of compare-and-set retries during gap-fill allocation",
	})

	DispatchImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_imports_total",
		Help: "Total number of CSV dispatch imports by result",
	}, []string{"result"})

	DispatchImportLines = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_import_lines",
		Help:    "Number of line items per successful dispatch import",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	PaymentGatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_gateway_requests_total",
		Help: "Total number of outbound payment gateway requests",
	}, []string{"op", "result"})

	PaymentGatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of outbound payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	PaymentWebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhooks_total",
		Help: "Total number of payment webhooks by event and result",
	}, []string{"event", "result"})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of card signature verifications by result",
	}, []string{"result"})

	PaymentBroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_broadcasts_total",
		Help: "Total number of per-channel payment outcome sends",
	}, []string{"result"})

	PaymentChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payment_channels_open",
		Help: "Number of client channels currently waiting on a payment outcome",
	})

	NotificationDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Total number of outbound notification deliveries by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
