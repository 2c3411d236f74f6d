// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlm_orders_submitted_total",
			Help: "Total number of orders submitted (by venue and side).",
		},
		[]string{"venue", "side"},
	)

	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlm_orders_filled_total",
			Help: "Total number of orders filled (by venue and side).",
		},
		[]string{"venue", "side"},
	)

	OrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlm_orders_failed_total",
			Help: "Total number of orders that failed (by venue).",
		},
		[]string{"venue"},
	)

	ActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlm_actions_executed_total",
			Help: "Options actions executed by the scheduler (by strategy and type).",
		},
		[]string{"strategy", "type"},
	)

	RiskDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tlm_risk_denials_total",
			Help: "Trades denied by the risk manager (by book).",
		},
		[]string{"book"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlm_equity",
			Help: "Current portfolio value in quote currency.",
		},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tlm_positions_open",
			Help: "Current number of open positions (by book).",
		},
		[]string{"book"},
	)

	PortfolioDelta = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlm_portfolio_delta",
			Help: "Net delta of the options book.",
		},
	)

	PortfolioTheta = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tlm_portfolio_theta_usd",
			Help: "Net theta of the options book in USD per day.",
		},
	)

	CircuitBreakerActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tlm_circuit_breaker_active",
			Help: "1 while the risk circuit breaker cooldown is active (by book).",
		},
		[]string{"book"},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersSubmitted, OrdersFilled, OrdersFailed,
		ActionsExecuted, RiskDenials,
		EquityGauge, PositionsOpen,
		PortfolioDelta, PortfolioTheta,
		CircuitBreakerActive,
	)
}
