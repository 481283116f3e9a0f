// Package position owns the open-trade state machine: a trailing
// peak-stop combined with a trend-average exit. A position is either
// OPEN_TRAILING or CLOSED with a definite exit reason; the state
// machine is advanced exactly once per tick, before any new-entry
// evaluation.
package position

import "time"

// ExitReason tags why a position closed.
type ExitReason string

const (
	ExitTrend        ExitReason = "ma_exit"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitForced       ExitReason = "forced"
)

// State of the exit machine.
type State int

const (
	StateOpenTrailing State = iota
	StateClosed
)

// Position is a single open long position. It is owned by the
// orchestrator (or the live trader) and mutated only through Tick,
// ForceClose, and ReconcileExternalClose.
type Position struct {
	Symbol      string
	EntryTime   time.Time
	EntryPrice  float64
	Quantity    float64
	InitialStop float64
	PeakPrice   float64
	RiskAmount  float64
	OpenedTier  string

	trailPct     float64
	trailingStop float64
	fixedStop    bool

	state  State
	reason ExitReason
}

// Open creates a position in OPEN_TRAILING. The peak starts at the
// entry price and the stop at entry × (1 − trailPct).
func Open(symbol string, entryTime time.Time, entryPrice, quantity, trailPct, riskAmount float64, tier string) *Position {
	return &Position{
		Symbol:      symbol,
		EntryTime:   entryTime,
		EntryPrice:  entryPrice,
		Quantity:    quantity,
		InitialStop: entryPrice * (1 - trailPct),
		PeakPrice:   entryPrice,
		RiskAmount:  riskAmount,
		OpenedTier:  tier,

		trailPct:     trailPct,
		trailingStop: entryPrice * (1 - trailPct),
		state:        StateOpenTrailing,
	}
}

// Tick advances the machine with the candle close and the current
// trend average. The peak and stop ratchet first (the stop never
// loosens), then the trend exit is checked before the trailing stop,
// so a momentum fade is reported as the cause even when both fire on
// the same candle. Returns the exit reason and true when the position
// transitioned to CLOSED on this tick.
func (p *Position) Tick(close, trendMA float64, useTrendExit bool) (ExitReason, bool) {
	if p.state != StateOpenTrailing {
		return "", false
	}

	if close > p.PeakPrice {
		p.PeakPrice = close
		if !p.fixedStop {
			if stop := p.PeakPrice * (1 - p.trailPct); stop > p.trailingStop {
				p.trailingStop = stop
			}
		}
	}

	if useTrendExit && trendMA > 0 && close < trendMA {
		p.close(ExitTrend)
		return ExitTrend, true
	}
	if close <= p.trailingStop {
		p.close(ExitTrailingStop)
		return ExitTrailingStop, true
	}
	return "", false
}

// ForceClose transitions to CLOSED with reason "forced" regardless of
// price, used at end of simulation and on governor halt liquidation.
func (p *Position) ForceClose() bool {
	if p.state != StateOpenTrailing {
		return false
	}
	p.close(ExitForced)
	return true
}

// ReconcileExternalClose maps "exchange reports position closed" into
// the same CLOSED transition as a simulated trigger, so live fills
// feed the identical trade-record and ledger path.
func (p *Position) ReconcileExternalClose(reason ExitReason) bool {
	if p.state != StateOpenTrailing {
		return false
	}
	if reason == "" {
		reason = ExitTrailingStop
	}
	p.close(reason)
	return true
}

// FallbackFixedStop freezes the stop at its current level. Invoked in
// live mode when the exchange-side trailing stop cannot be maintained
// after retries: the position stays protected by a fixed stop instead
// of trailing further.
func (p *Position) FallbackFixedStop() {
	p.fixedStop = true
}

func (p *Position) close(reason ExitReason) {
	p.state = StateClosed
	p.reason = reason
}

// State returns the current machine state.
func (p *Position) State() State { return p.state }

// Closed reports whether the machine has reached CLOSED.
func (p *Position) Closed() bool { return p.state == StateClosed }

// Reason returns the exit reason; valid only once Closed.
func (p *Position) Reason() ExitReason { return p.reason }

// TrailingStop returns the current stop level.
func (p *Position) TrailingStop() float64 { return p.trailingStop }

// Value is the mark-to-market value of the position at price.
func (p *Position) Value(price float64) float64 { return p.Quantity * price }
