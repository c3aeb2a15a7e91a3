package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orderOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_operations_total",
		Help: "Order use cases by operation and outcome.",
	}, []string{"op", "outcome"})

	orderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_operation_seconds",
		Help:    "Latency of order use cases including downstream calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	sagaCompensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_saga_compensations_total",
		Help: "Compensating releases executed after a failed order creation.",
	})

	sweptOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_swept_total",
		Help: "Orders handled by the payment timeout sweeper.",
	}, []string{"outcome"})
)

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
