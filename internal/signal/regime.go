package signal

import (
	"breakout-bot/internal/cfg"
	"breakout-bot/internal/indicator"
	"breakout-bot/internal/market"

	"github.com/rs/zerolog/log"
)

// RegimeFilter is the market-wide trend condition evaluated on a
// reference symbol (BTCUSDT by default). When enabled and unfavorable
// it suppresses every entry for the tick; individual-symbol entry math
// is unaffected either way. When disabled it can still be computed so
// the suppression it would have caused is auditable.
type RegimeFilter struct {
	cfg cfg.RegimeSettings

	closes []float64
	highs  []float64
	adx    *indicator.ADX

	favorable bool
	warm      bool

	// Audit counters for the run.
	Suppressed    int
	WouldSuppress int
}

// NewRegimeFilter builds the filter from config.
func NewRegimeFilter(c cfg.RegimeSettings) *RegimeFilter {
	return &RegimeFilter{cfg: c, adx: indicator.NewADX(14)}
}

// Active reports whether the filter participates in entry gating.
func (r *RegimeFilter) Active() bool { return r.cfg.Enabled }

// Computed reports whether Update does any work this run.
func (r *RegimeFilter) Computed() bool {
	return r.cfg.Enabled || r.cfg.ComputeWhenDisabled
}

// Update feeds the next reference-symbol candle and re-evaluates the
// regime: price above the long moving average, a new high within the
// recent bars, and a trending ADX.
func (r *RegimeFilter) Update(c market.Candle) {
	if !r.Computed() {
		return
	}

	r.adx.Update(c)

	r.closes = append(r.closes, c.Close)
	if len(r.closes) > r.cfg.MAPeriod {
		r.closes = r.closes[len(r.closes)-r.cfg.MAPeriod:]
	}

	highCap := r.cfg.HighLookback + r.cfg.RecentHighBars
	r.highs = append(r.highs, c.High)
	if len(r.highs) > highCap {
		r.highs = r.highs[len(r.highs)-highCap:]
	}

	r.warm = len(r.closes) >= r.cfg.MAPeriod && len(r.highs) >= highCap && r.adx.Warm()
	if !r.warm {
		r.favorable = false
		return
	}

	var maSum float64
	for _, v := range r.closes {
		maSum += v
	}
	ma := maSum / float64(len(r.closes))

	recentHigh := maxOf(r.highs[len(r.highs)-r.cfg.RecentHighBars:])
	pastHigh := maxOf(r.highs[:r.cfg.HighLookback])

	aboveMA := c.Close > ma
	newHigh := recentHigh >= pastHigh
	trending := r.adx.Value() > r.cfg.ADXThreshold

	prev := r.favorable
	r.favorable = aboveMA && newHigh && trending

	if prev != r.favorable {
		log.Debug().
			Str("symbol", r.cfg.Symbol).
			Time("ts", c.Ts).
			Bool("above_ma", aboveMA).
			Bool("new_high", newHigh).
			Bool("adx_trending", trending).
			Bool("favorable", r.favorable).
			Msg("market regime changed")
	}
}

// Allows reports whether entries may proceed on this tick, and records
// the audit counters. An unwarm filter blocks entries while active:
// no regime reading is treated as unfavorable, never as favorable.
func (r *RegimeFilter) Allows() bool {
	if !r.Computed() {
		return true
	}
	if r.favorable {
		return true
	}
	if r.cfg.Enabled {
		r.Suppressed++
		return false
	}
	r.WouldSuppress++
	return true
}

func maxOf(s []float64) float64 {
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
