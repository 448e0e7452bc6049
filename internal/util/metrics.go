package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed order creations",
	}, []string{"reason"})

	OrderStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_status_transitions_total",
		Help: "Total number of order status transitions",
	}, []string{"from", "to"})

	VoucherConsumptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_consumptions_total",
		Help: "Voucher consumption attempts by result",
	}, []string{"result"})

	AggregateApplyFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregate_apply_failures_total",
		Help: "Total number of customer counter updates that failed",
	})

	AggregateCounterClampedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aggregate_counter_clamped_total",
		Help: "Counter updates that would have gone negative and were clamped at zero",
	}, []string{"field"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Confirmation emails by final result",
	}, []string{"result"})

	NotificationQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_queue_dropped_total",
		Help: "Confirmation emails dropped because the queue was full",
	})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_runs_total",
		Help: "Reconciliation runs by result",
	}, []string{"result"})

	ReconcileDriftTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_drift_total",
		Help: "Inconsistencies found by reconciliation",
	}, []string{"kind"})

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
