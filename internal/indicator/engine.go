// Package indicator maintains per-symbol rolling indicator state: a
// Bollinger band-width compression percentile, a relative volume
// ratio, a trend moving average, and a Wilder-smoothed ADX. Engines
// are fed candles strictly in timestamp order and expose a snapshot
// Frame only once every lookback window is full.
package indicator

import (
	"errors"
	"math"
	"time"

	"breakout-bot/internal/market"
)

// ErrInsufficientHistory is returned by Frame until every rolling
// window has a full lookback. It means "no signal", not a fault.
var ErrInsufficientHistory = errors.New("indicator: insufficient history")

// Config holds the rolling-window parameters for one engine.
type Config struct {
	BBPeriod     int     // Bollinger band period
	BBStdDev     float64 // band width in standard deviations
	Lookback     int     // band-width percentile lookback
	VolumePeriod int     // trailing average volume period
	MAPeriod     int     // trend moving average period
	ADXPeriod    int     // Wilder ADX period
}

// Frame is a point-in-time snapshot of all indicator values for one
// symbol. Values are only valid for candles with a full lookback.
type Frame struct {
	Ts           time.Time
	Close        float64
	BandwidthPct float64 // percentile rank of band width, 0-100
	VolumeRatio  float64
	MA           float64
	MiddleBand   float64
	UpperBand    float64
	LowerBand    float64
	ADX          float64
}

// Engine computes indicators incrementally for a single symbol.
type Engine struct {
	cfg Config

	closes  []float64
	volumes []float64
	widths  []float64
	adx     *ADX

	count  int
	lastTs time.Time
	last   Frame
	ready  bool
}

// New creates an engine; zero or negative config fields fall back to
// the conventional defaults (20/2.0/90/20/20/14).
func New(cfg Config) *Engine {
	if cfg.BBPeriod <= 1 {
		cfg.BBPeriod = 20
	}
	if cfg.BBStdDev <= 0 {
		cfg.BBStdDev = 2.0
	}
	if cfg.Lookback <= 1 {
		cfg.Lookback = 90
	}
	if cfg.VolumePeriod <= 1 {
		cfg.VolumePeriod = 20
	}
	if cfg.MAPeriod <= 1 {
		cfg.MAPeriod = 20
	}
	if cfg.ADXPeriod <= 1 {
		cfg.ADXPeriod = 14
	}
	return &Engine{cfg: cfg, adx: NewADX(cfg.ADXPeriod)}
}

// Update feeds the next candle. Candles must arrive in ascending
// timestamp order; out-of-order candles are ignored.
func (e *Engine) Update(c market.Candle) {
	if e.count > 0 && !c.Ts.After(e.lastTs) {
		return
	}

	e.adx.Update(c)

	maxWin := e.cfg.BBPeriod
	if e.cfg.MAPeriod > maxWin {
		maxWin = e.cfg.MAPeriod
	}
	e.closes = pushCapped(e.closes, c.Close, maxWin)
	e.volumes = pushCapped(e.volumes, c.Volume, e.cfg.VolumePeriod)

	e.count++
	e.lastTs = c.Ts

	frame := Frame{Ts: c.Ts, Close: c.Close, ADX: e.adx.Value()}

	if len(e.closes) >= e.cfg.BBPeriod {
		window := e.closes[len(e.closes)-e.cfg.BBPeriod:]
		mid, std := meanStd(window)
		frame.MiddleBand = mid
		frame.UpperBand = mid + e.cfg.BBStdDev*std
		frame.LowerBand = mid - e.cfg.BBStdDev*std
		if mid != 0 {
			width := (frame.UpperBand - frame.LowerBand) / mid
			e.widths = pushCapped(e.widths, width, e.cfg.Lookback)
		}
	}

	if len(e.closes) >= e.cfg.MAPeriod {
		frame.MA = mean(e.closes[len(e.closes)-e.cfg.MAPeriod:])
	}

	if len(e.volumes) >= e.cfg.VolumePeriod {
		avg := mean(e.volumes)
		if avg > 0 {
			frame.VolumeRatio = c.Volume / avg
		}
	}

	if len(e.widths) >= e.cfg.Lookback {
		frame.BandwidthPct = percentileRank(e.widths)
		e.ready = len(e.closes) >= e.cfg.MAPeriod &&
			len(e.volumes) >= e.cfg.VolumePeriod &&
			e.adx.Warm()
	}

	e.last = frame
}

// Frame returns the snapshot for the most recent candle, or
// ErrInsufficientHistory while any lookback window is still filling.
func (e *Engine) Frame() (Frame, error) {
	if !e.ready {
		return Frame{}, ErrInsufficientHistory
	}
	return e.last, nil
}

// Warm reports whether the engine has a full lookback.
func (e *Engine) Warm() bool { return e.ready }

// Snapshot returns the most recent frame without the warmth check.
// Fields whose windows are still filling are zero. Exit logic uses
// this: a position's trend average is readable as soon as MAPeriod
// candles exist, long before the percentile lookback fills.
func (e *Engine) Snapshot() Frame { return e.last }

// percentileRank ranks the last value against the trailing window on
// a 0-100 scale. Ties are broken by recency: an equal width from an
// earlier candle ranks below the current one.
func percentileRank(window []float64) float64 {
	n := len(window)
	if n < 2 {
		return 0
	}
	cur := window[n-1]
	below := 0
	for _, w := range window[:n-1] {
		if w <= cur {
			below++
		}
	}
	return 100 * float64(below) / float64(n-1)
}

func pushCapped(s []float64, v float64, cap int) []float64 {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

func mean(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// meanStd returns the mean and sample standard deviation.
func meanStd(s []float64) (float64, float64) {
	m := mean(s)
	if len(s) < 2 {
		return m, 0
	}
	var variance float64
	for _, v := range s {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(s) - 1)
	return m, math.Sqrt(variance)
}
