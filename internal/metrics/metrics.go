// Package metrics registers the service's Prometheus collectors on the
// default registry; cmd/server exposes them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SeatClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_seat_claims_total",
		Help: "Seat claim attempts by result (ok, conflict, error)",
	}, []string{"result"})

	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_requests_total",
		Help: "Reserve calls by outcome",
	}, []string{"outcome"})

	Compensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_compensations_total",
		Help: "Holds released because a multi-seat reservation failed part way",
	})

	HoldsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_holds_expired_total",
		Help: "Held rows moved to expired by the sweeper",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_sweep_duration_seconds",
		Help:    "Time taken by one sweep pass",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	OrderEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_order_events_total",
		Help: "Order status events handled, by new status",
	}, []string{"status"})

	TicketsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_tickets_issued_total",
		Help: "Tickets created (re-deliveries that found an existing ticket are not counted)",
	})

	OrdersWithoutSeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_orders_without_seats_total",
		Help: "Paid order events that found no held or confirmed seats to confirm",
	})

	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_ticket_redemptions_total",
		Help: "Redeem calls by outcome",
	}, []string{"outcome"})

	InvariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservation_invariant_violations_total",
		Help: "Detected breaches of the single-holder and single-order guarantees",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_rate_limited_total",
		Help: "Requests rejected by the token bucket, by bucket prefix",
	}, []string{"bucket"})
)
