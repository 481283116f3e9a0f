// Package sizing turns equity, a risk fraction, and a stop distance
// into an order quantity. Sizing is pure: identical inputs always
// produce identical decisions, and the governor influences it only
// through the risk scale.
package sizing

import (
	"fmt"

	"breakout-bot/internal/cfg"
)

// SizingError reports a quantity that violates the caps or is
// non-positive. The entry is skipped and the error logged as a
// diagnostic; quantities are never silently clamped to zero.
type SizingError struct {
	Symbol string
	Reason string
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("sizing violation for %s: %s", e.Symbol, e.Reason)
}

// Decision is the sizing outcome for one entry.
type Decision struct {
	Quantity      float64
	Notional      float64
	RiskAmount    float64
	EffectiveRisk float64 // risk fraction after tier scaling
}

// Sizer computes risk-based position sizes.
type Sizer struct {
	riskPerTrade   float64
	perPositionCap float64
}

// New builds a sizer from the risk settings.
func New(rc cfg.RiskSettings) *Sizer {
	return &Sizer{riskPerTrade: rc.RiskPerTrade, perPositionCap: rc.PerPositionCap}
}

// Size computes quantity = equity × riskFraction / stopDistance, with
// the notional capped at equity × perPositionCap. riskScale is the
// governor's current scaling (1.0, or 0.5 under weekly/monthly
// reduction).
func (s *Sizer) Size(symbol string, equity, entryPrice, stopPrice, riskScale float64) (Decision, error) {
	if equity <= 0 {
		return Decision{}, &SizingError{Symbol: symbol, Reason: "non-positive equity"}
	}
	if entryPrice <= 0 {
		return Decision{}, &SizingError{Symbol: symbol, Reason: "non-positive entry price"}
	}
	stopDistance := entryPrice - stopPrice
	if stopDistance <= 0 {
		return Decision{}, &SizingError{Symbol: symbol, Reason: fmt.Sprintf("stop %f not below entry %f", stopPrice, entryPrice)}
	}
	if riskScale <= 0 {
		return Decision{}, &SizingError{Symbol: symbol, Reason: "zero risk scale"}
	}

	effRisk := s.riskPerTrade * riskScale
	quantity := equity * effRisk / stopDistance

	notional := quantity * entryPrice
	if maxNotional := equity * s.perPositionCap; notional > maxNotional {
		quantity = maxNotional / entryPrice
		notional = maxNotional
	}

	if quantity <= 0 {
		return Decision{}, &SizingError{Symbol: symbol, Reason: "computed quantity is non-positive"}
	}

	return Decision{
		Quantity:      quantity,
		Notional:      notional,
		RiskAmount:    quantity * stopDistance,
		EffectiveRisk: effRisk,
	}, nil
}
