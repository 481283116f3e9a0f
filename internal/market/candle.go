// Package market defines the candle data model shared by the
// indicator engine, the backtester, and the live trader. Candles are
// immutable once ingested; a Series owns the ascending-by-timestamp
// ordering for one symbol and rejects streams with gaps or duplicate
// timestamps at build time.
package market

import (
	"fmt"
	"time"
)

// Candle is a single fixed-interval OHLCV bar.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Ts        time.Time `json:"ts"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Notional is the traded value of the bar, used by the liquidity gate.
func (c Candle) Notional() float64 {
	return c.Close * c.Volume
}

// GapError reports a hole or duplicate in a symbol's candle stream.
// Symbols with gap errors are excluded from the affected window rather
// than interpolated.
type GapError struct {
	Symbol string
	At     time.Time
	Prev   time.Time
	Kind   string // "gap", "duplicate", "out_of_order"
}

func (e *GapError) Error() string {
	return fmt.Sprintf("candle %s for %s at %s (previous %s)", e.Kind, e.Symbol, e.At.Format(time.RFC3339), e.Prev.Format(time.RFC3339))
}

// Series is the validated candle history for one symbol.
type Series struct {
	Symbol   string
	Interval time.Duration
	Candles  []Candle
}

// BuildSeries validates an ascending candle stream for symbol. It
// returns a *GapError on duplicate or out-of-order timestamps, and on
// missing bars when interval is non-zero. Empty input yields an empty
// series.
func BuildSeries(symbol string, interval time.Duration, candles []Candle) (*Series, error) {
	s := &Series{Symbol: symbol, Interval: interval, Candles: candles}

	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Ts, candles[i].Ts
		switch {
		case cur.Equal(prev):
			return nil, &GapError{Symbol: symbol, At: cur, Prev: prev, Kind: "duplicate"}
		case cur.Before(prev):
			return nil, &GapError{Symbol: symbol, At: cur, Prev: prev, Kind: "out_of_order"}
		case interval > 0 && cur.Sub(prev) != interval:
			return nil, &GapError{Symbol: symbol, At: cur, Prev: prev, Kind: "gap"}
		}
	}

	return s, nil
}

// Len returns the number of candles in the series.
func (s *Series) Len() int { return len(s.Candles) }

// At returns the candle at index i.
func (s *Series) At(i int) Candle { return s.Candles[i] }

// Last returns the most recent candle and whether one exists.
func (s *Series) Last() (Candle, bool) {
	if len(s.Candles) == 0 {
		return Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}

// Slice returns the candles covering [from, to] inclusive.
func (s *Series) Slice(from, to time.Time) []Candle {
	var out []Candle
	for _, c := range s.Candles {
		if c.Ts.Before(from) || c.Ts.After(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
