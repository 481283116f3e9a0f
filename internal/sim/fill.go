// Package sim models realistic fills for the backtester: a fixed
// basis-point slippage charged against the trader, per-side
// commission, and a liquidity gate that refuses fills on candles
// below a minimum traded notional.
package sim

import (
	"time"

	"breakout-bot/internal/cfg"
	"breakout-bot/internal/market"
	"breakout-bot/internal/position"
)

// SkipReason distinguishes why a qualifying signal produced no fill.
// Diagnostics keep governor blocks apart from liquidity and sizing
// skips so each gate is auditable on its own.
type SkipReason string

const (
	SkipGovernor  SkipReason = "governor_blocked"
	SkipRegime    SkipReason = "regime_filtered"
	SkipLiquidity SkipReason = "insufficient_liquidity"
	SkipSizing    SkipReason = "sizing_violation"
	SkipSlots     SkipReason = "no_position_slot"
)

// Skip is one skipped-entry diagnostic record.
type Skip struct {
	Symbol string
	Ts     time.Time
	Reason SkipReason
	Detail string
}

// Simulator applies the fill model.
type Simulator struct {
	slippage       float64 // fractional, e.g. 0.001 for 10 bps
	commissionRate float64
	minNotional    float64
}

// New builds a simulator from the execution settings.
func New(ec cfg.ExecSettings) *Simulator {
	return &Simulator{
		slippage:       ec.SlippageBps / 10000,
		commissionRate: ec.CommissionRate,
		minNotional:    ec.MinNotional,
	}
}

// Liquid reports whether the candle clears the liquidity gate. An
// illiquid candle skips the signal entirely for that tick; there are
// no partial fills.
func (s *Simulator) Liquid(c market.Candle) bool {
	return c.Notional() >= s.minNotional
}

// EntryFill returns the fill price for a market entry at the candle
// close, slipped against the buyer.
func (s *Simulator) EntryFill(close float64) float64 {
	return close * (1 + s.slippage)
}

// ExitFill returns the fill price for an exit. Stop and forced exits
// are slipped against the seller, mirroring the entry; a trend exit
// is a decision taken on the close and fills at the close.
func (s *Simulator) ExitFill(close float64, reason position.ExitReason) float64 {
	switch reason {
	case position.ExitTrailingStop, position.ExitForced:
		return close * (1 - s.slippage)
	default:
		return close
	}
}

// Commission returns the fee for one side of a trade.
func (s *Simulator) Commission(notional float64) float64 {
	return notional * s.commissionRate
}
