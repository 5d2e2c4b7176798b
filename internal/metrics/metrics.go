// Package metrics provides Prometheus metrics for the sync engine.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	// Ingestion
	MessagesIngested *prometheus.CounterVec
	BusDropped       prometheus.Counter

	// Optimistic writes
	SendsTotal   prometheus.Counter
	SendFailures prometheus.Counter

	// Reconciliation poller
	PollTicks  prometheus.Counter
	PollErrors prometheus.Counter

	// Subscriptions
	SubscriptionsActive  prometheus.Gauge
	SubscriptionFailures *prometheus.CounterVec

	// Read receipts
	ReadReceiptFailures prometheus.Counter

	// Local API
	GrpcRequestsTotal   *prometheus.CounterVec
	GrpcRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		MessagesIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_messages_ingested_total",
			Help: "Messages applied to the local log, by source and outcome",
		}, []string{"source", "outcome"}),
		BusDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_bus_dropped_total",
			Help: "Events a bus subscriber missed because its buffer was full",
		}),
		SendsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Write requests issued for optimistic sends",
		}),
		SendFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Write requests rejected by the Persistence Service",
		}),
		PollTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_poll_ticks_total",
			Help: "Reconciliation poll fetches",
		}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_poll_errors_total",
			Help: "Reconciliation poll fetches that failed",
		}),
		SubscriptionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_subscriptions_active",
			Help: "Subscription handles currently held",
		}),
		SubscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_subscription_failures_total",
			Help: "Subscriptions that failed to open, by kind",
		}, []string{"kind"}),
		ReadReceiptFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_read_receipt_failures_total",
			Help: "Mark-read notifications that could not be delivered",
		}),
		GrpcRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_grpc_requests_total",
			Help: "Total number of local API requests",
		}, []string{"method", "status"}),
		GrpcRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatsync_grpc_request_duration_seconds",
			Help:    "Duration of local API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// ObserveIngest counts one message applied from source with the given outcome.
func (m *Metrics) ObserveIngest(source, outcome string) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveBusDrop() {
	if m == nil {
		return
	}
	m.BusDropped.Inc()
}

func (m *Metrics) ObserveSend() {
	if m == nil {
		return
	}
	m.SendsTotal.Inc()
}

func (m *Metrics) ObserveSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// ObservePoll counts one poll fetch and its failure, if any.
func (m *Metrics) ObservePoll(err error) {
	if m == nil {
		return
	}
	m.PollTicks.Inc()
	if err != nil {
		m.PollErrors.Inc()
	}
}

func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.SubscriptionsActive.Set(float64(n))
}

func (m *Metrics) ObserveSubscriptionFailure(kind string) {
	if m == nil {
		return
	}
	m.SubscriptionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveReadReceiptFailure() {
	if m == nil {
		return
	}
	m.ReadReceiptFailures.Inc()
}

// RecordGrpcRequest records a local API call.
func (m *Metrics) RecordGrpcRequest(method, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(d.Seconds())
}
