package backtest

import (
	"math"

	"breakout-bot/internal/position"
	"breakout-bot/internal/risk"
	"breakout-bot/internal/sim"
)

// Results aggregates everything a run produces: the trade log, the
// equity curve, governor events, skip diagnostics, and the summary
// metrics computed once after the final tick.
type Results struct {
	InitialBalance float64       `json:"initial_balance"`
	FinalBalance   float64       `json:"final_balance"`
	Trades         []TradeRecord `json:"trades"`
	EquityCurve    []EquityPoint `json:"equity_curve"`
	GovernorEvents []risk.Event  `json:"governor_events"`
	Skips          []sim.Skip    `json:"skips"`

	TotalReturnPct  float64 `json:"total_return_pct"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	SharpeRatio     float64 `json:"sharpe_ratio"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	TotalCommission float64 `json:"total_commission"`

	ExitReasons map[position.ExitReason]int `json:"exit_reasons"`
	SkipCounts  map[sim.SkipReason]int      `json:"skip_counts"`

	RegimeSuppressedTicks int `json:"regime_suppressed_ticks"`
	RegimeWouldSuppress   int `json:"regime_would_suppress"`

	// entry commission per open symbol until the matching exit settles
	entryCommissions map[string]float64
}

func newResults(initial float64) *Results {
	return &Results{
		InitialBalance:   initial,
		ExitReasons:      make(map[position.ExitReason]int),
		SkipCounts:       make(map[sim.SkipReason]int),
		entryCommissions: make(map[string]float64),
	}
}

func (r *Results) addSkip(s sim.Skip) {
	r.Skips = append(r.Skips, s)
	r.SkipCounts[s.Reason]++
}

// computeMetrics derives the summary statistics from the trade log
// and the equity curve. Called exactly once, after the last tick.
func (r *Results) computeMetrics() {
	if r.InitialBalance > 0 {
		r.TotalReturnPct = (r.FinalBalance - r.InitialBalance) / r.InitialBalance * 100
	}

	var wins, losses int
	var grossProfit, grossLoss float64
	for _, t := range r.Trades {
		r.ExitReasons[t.ExitReason]++
		r.TotalCommission += t.Commission
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			losses++
			grossLoss += -t.PnL
		}
	}
	if n := len(r.Trades); n > 0 {
		r.WinRate = float64(wins) / float64(n) * 100
	}
	if wins > 0 {
		r.AvgWin = grossProfit / float64(wins)
	}
	if losses > 0 {
		r.AvgLoss = grossLoss / float64(losses)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		// no losing trades; keep the value finite for JSON output
		r.ProfitFactor = grossProfit
	}

	r.MaxDrawdownPct = maxDrawdown(r.EquityCurve) * 100
	r.SharpeRatio = sharpe(r.EquityCurve)
}

// maxDrawdown is the largest peak-to-trough decline of the equity
// curve, as a fraction of the peak.
func maxDrawdown(curve []EquityPoint) float64 {
	var peak, maxDD float64
	for _, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpe annualizes per-tick returns assuming 4h candles, so 2190
// periods per year. Zero when the curve is too short or flat.
func sharpe(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, ret := range returns {
		sum += ret
	}
	m := sum / float64(len(returns))
	var variance float64
	for _, ret := range returns {
		variance += (ret - m) * (ret - m)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return m / std * math.Sqrt(2190)
}
