// Package metrics holds the Prometheus collectors of the deal engine.
// They are registered in init() and served by the dashboard at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Ticks counts reconciliation ticks by outcome: decided, idle, fetch_error, pending.
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcaladder_ticks_total",
			Help: "Reconciliation ticks by pair and outcome",
		},
		[]string{"pair", "outcome"},
	)

	// Orders counts order attempts; result is filled, rejected or unknown.
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcaladder_orders_total",
			Help: "Orders placed by pair, side and result",
		},
		[]string{"pair", "side", "result"},
	)

	DealsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcaladder_deals_started_total",
			Help: "Deals created or resumed",
		},
		[]string{"pair", "kind"},
	)

	DealsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcaladder_deals_closed_total",
			Help: "Deals closed at take profit",
		},
		[]string{"pair"},
	)

	DealsDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dcaladder_deals_degraded_total",
			Help: "Deals marked degraded after repeated execution failures",
		},
		[]string{"pair"},
	)

	// ClosedProfit distribution of realized profit percent.
	ClosedProfit = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dcaladder_closed_profit_percent",
			Help:    "Realized profit percent of closed deals",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"pair"},
	)

	RunningDeals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcaladder_running_deals",
			Help: "Deals currently driven by a reconciliation loop",
		},
	)

	// StaleDeals deals whose last tick is older than the watchdog threshold.
	StaleDeals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dcaladder_stale_deals",
			Help: "Running deals without a recent tick",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Ticks,
		Orders,
		DealsStarted,
		DealsClosed,
		DealsDegraded,
		ClosedProfit,
		RunningDeals,
		StaleDeals,
	)
}
