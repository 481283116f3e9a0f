// Package metrics provides Prometheus metrics for the breakout bot.
// It covers order execution, signal generation, the risk governor,
// and websocket health, exposed via the trader's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the trading bot.
type Metrics struct {
	// Trading metrics
	OrdersTotal     prometheus.Counter     // Total number of orders placed
	OrderRetries    prometheus.Counter     // Number of order placement retries
	StopFallbacks   prometheus.Counter     // Times the fixed-stop fallback replaced the trailing stop
	PnLTotal        prometheus.Gauge       // Realized profit and loss since start
	Equity          prometheus.Gauge       // Current account equity
	ActivePositions prometheus.Gauge       // Number of open positions
	TradesClosed    *prometheus.CounterVec // Closed trades by exit reason

	// Signal metrics
	SignalsGenerated prometheus.Counter     // Entry signals that passed all criteria
	EntriesSkipped   *prometheus.CounterVec // Skipped entries by reason
	RegimeSuppressed prometheus.Counter     // Ticks suppressed by the market regime filter

	// Risk metrics
	GovernorTier prometheus.Gauge       // Current governor tier (0 none .. 4 halted)
	RiskEvents   *prometheus.CounterVec // Governor events by kind
	DrawdownPct  prometheus.Gauge       // Current drawdown from peak equity

	// WebSocket and data metrics
	WSReconnects    prometheus.Counter // Total number of websocket reconnections
	CandlesReceived prometheus.Counter // Total number of closed candles received

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for
// testing, where the global registry would collide between cases).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		OrdersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Total number of orders placed",
		}),
		OrderRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "order_retries_total",
			Help: "Number of order placement retries",
		}),
		StopFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "stop_fallbacks_total",
			Help: "Times the fixed-stop fallback replaced the trailing stop",
		}),
		PnLTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pnl_total",
			Help: "Realized profit and loss since start",
		}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "account_equity",
			Help: "Current account equity",
		}),
		ActivePositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_positions",
			Help: "Number of open positions",
		}),
		TradesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_closed_total",
			Help: "Closed trades by exit reason",
		}, []string{"reason"}),
		SignalsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "signals_generated_total",
			Help: "Entry signals that passed all criteria",
		}),
		EntriesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "entries_skipped_total",
			Help: "Skipped entries by reason",
		}, []string{"reason"}),
		RegimeSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "regime_suppressed_total",
			Help: "Ticks suppressed by the market regime filter",
		}),
		GovernorTier: factory.NewGauge(prometheus.GaugeOpts{
			Name: "governor_tier",
			Help: "Current governor tier (0 none, 1 daily, 2 weekly, 3 monthly, 4 halted)",
		}),
		RiskEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_events_total",
			Help: "Governor events by kind",
		}, []string{"kind"}),
		DrawdownPct: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drawdown_pct",
			Help: "Current drawdown from peak equity",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_reconnects_total",
			Help: "Total number of websocket reconnections",
		}),
		CandlesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "candles_received_total",
			Help: "Total number of closed candles received",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// TierValue maps a governor tier name to its gauge value.
func TierValue(tier string) float64 {
	switch tier {
	case "daily_block":
		return 1
	case "weekly_halved":
		return 2
	case "monthly_halved":
		return 3
	case "halted":
		return 4
	default:
		return 0
	}
}
