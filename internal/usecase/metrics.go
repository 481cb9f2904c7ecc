package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stockReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_reservations_total",
			Help: "Stock reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	stockSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_settlements_total",
			Help: "Reservation settlements by kind and whether an entry was written",
		},
		[]string{"kind", "applied"},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order lifecycle events by outcome",
		},
		[]string{"event", "outcome"},
	)

	checkoutCompensations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_compensations_total",
			Help: "Checkouts rolled back by releasing already reserved lines",
		},
	)

	voucherOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voucher_outcomes_total",
			Help: "Voucher evaluations at checkout by outcome",
		},
		[]string{"outcome"},
	)
)
