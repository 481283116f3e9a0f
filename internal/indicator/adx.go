package indicator

import (
	"math"

	"breakout-bot/internal/market"
)

// ADX is an incremental Wilder-smoothed Average Directional Index.
// It is used both inside Engine and standalone by the market regime
// filter, which runs on a different timeframe than the entry signals.
type ADX struct {
	period int

	prevHigh, prevLow, prevClose float64
	atr, plusDM, minusDM         float64
	value                        float64
	count                        int
}

// NewADX creates an ADX calculator; period defaults to 14.
func NewADX(period int) *ADX {
	if period <= 1 {
		period = 14
	}
	return &ADX{period: period}
}

// Update advances the index with the next candle.
func (a *ADX) Update(c market.Candle) {
	if a.count == 0 {
		a.prevHigh, a.prevLow, a.prevClose = c.High, c.Low, c.Close
		a.count = 1
		return
	}

	tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
	upMove := c.High - a.prevHigh
	downMove := a.prevLow - c.Low

	var plusDM, minusDM float64
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}

	alpha := 1.0 / float64(a.period)
	if a.count == 1 {
		a.atr, a.plusDM, a.minusDM = tr, plusDM, minusDM
	} else {
		a.atr = alpha*tr + (1-alpha)*a.atr
		a.plusDM = alpha*plusDM + (1-alpha)*a.plusDM
		a.minusDM = alpha*minusDM + (1-alpha)*a.minusDM
	}

	if a.atr > 0 {
		plusDI := 100 * a.plusDM / a.atr
		minusDI := 100 * a.minusDM / a.atr
		if sum := plusDI + minusDI; sum > 0 {
			dx := 100 * math.Abs(plusDI-minusDI) / sum
			if a.count == 1 {
				a.value = dx
			} else {
				a.value = alpha*dx + (1-alpha)*a.value
			}
		}
	}

	a.prevHigh, a.prevLow, a.prevClose = c.High, c.Low, c.Close
	a.count++
}

// Value returns the current ADX reading.
func (a *ADX) Value() float64 { return a.value }

// Warm reports whether enough candles have been seen for the
// smoothing to be meaningful.
func (a *ADX) Warm() bool { return a.count > a.period }
