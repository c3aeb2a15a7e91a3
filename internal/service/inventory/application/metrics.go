package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reservationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservation_operations_total",
		Help: "Reservation operations by type and outcome.",
	}, []string{"op", "outcome"})

	reservationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_reservation_operation_seconds",
		Help:    "Latency of reservation operations including CAS retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	casConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_occ_conflicts_total",
		Help: "Optimistic lock conflicts observed per operation.",
	}, []string{"op"})

	lowStockAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_low_stock_alerts_total",
		Help: "Low stock alerts by delivery outcome.",
	}, []string{"outcome"})

	sweptReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_swept_reservations_total",
		Help: "Reservations handled by the expiry sweeper.",
	}, []string{"outcome"})
)

// outcomeOf 把错误归类为指标标签。
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return ErrorCode(err)
}
