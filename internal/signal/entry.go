// Package signal evaluates momentum-breakout entry conditions on top
// of indicator frames, and hosts the market-wide regime filter that
// can suppress all entries for a tick.
package signal

import (
	"math"
	"time"

	"breakout-bot/internal/cfg"
	"breakout-bot/internal/indicator"
)

// Signal is a qualifying entry for one symbol on one clock tick. It is
// produced for a single tick and consumed immediately by the
// orchestrator.
type Signal struct {
	Symbol        string
	Ts            time.Time
	Direction     string // "long"
	Strength      float64
	Close         float64
	StopReference float64 // initial stop price
	Target        float64 // measured-move breakout target
	VolumeRatio   float64
}

// Generator applies the entry rule to indicator frames.
type Generator struct {
	strat    cfg.StrategySettings
	trailPct float64
}

// NewGenerator builds a generator; trailPct defines the initial stop
// distance used for the reward/risk screen.
func NewGenerator(strat cfg.StrategySettings, trailPct float64) *Generator {
	return &Generator{strat: strat, trailPct: trailPct}
}

// Evaluate checks all entry criteria against a frame. It returns the
// signal and true only when every criterion holds:
// band-width percentile below threshold, volume ratio above threshold,
// close above the trend average, close above the upper band, and
// reward/risk at or above the configured minimum.
func (g *Generator) Evaluate(symbol string, f indicator.Frame) (Signal, bool) {
	if f.BandwidthPct >= g.strat.BBWidthPctMax {
		return Signal{}, false
	}
	if f.VolumeRatio <= g.strat.VolumeRatioMin {
		return Signal{}, false
	}
	if f.Close <= f.MA {
		return Signal{}, false
	}
	if f.Close <= f.UpperBand {
		return Signal{}, false
	}

	stop := f.Close * (1 - g.trailPct)
	target := f.Close + (f.UpperBand - f.LowerBand)
	risk := f.Close - stop
	if risk <= 0 {
		return Signal{}, false
	}
	if (target-f.Close)/risk < g.strat.MinRewardRisk {
		return Signal{}, false
	}

	return Signal{
		Symbol:        symbol,
		Ts:            f.Ts,
		Direction:     "long",
		Strength:      strength(g.strat, f),
		Close:         f.Close,
		StopReference: stop,
		Target:        target,
		VolumeRatio:   f.VolumeRatio,
	}, true
}

// strength blends how far each indicator clears its threshold into a
// 0-1 ranking score. It is used only to order candidates when more
// symbols qualify than position slots.
func strength(strat cfg.StrategySettings, f indicator.Frame) float64 {
	compression := 1 - f.BandwidthPct/100
	volume := math.Min(f.VolumeRatio/5.0, 1.0)

	var trend float64
	if f.MA > 0 {
		trend = math.Min((f.Close-f.MA)/f.MA/0.10, 1.0)
	}

	return (compression + volume + trend) / 3
}

// Less orders candidates for slot allocation: higher strength first,
// volume ratio as the tie-breaker, symbol as the deterministic final
// tie-break so slot allocation is reproducible.
func Less(a, b Signal) bool {
	if a.Strength != b.Strength {
		return a.Strength > b.Strength
	}
	if a.VolumeRatio != b.VolumeRatio {
		return a.VolumeRatio > b.VolumeRatio
	}
	return a.Symbol < b.Symbol
}
