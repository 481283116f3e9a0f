// Package bybit binds the bot to the Bybit v5 API: REST for orders,
// positions, server-side trailing stops, and candle history, plus the
// public websocket kline stream.
package bybit

import (
	"fmt"
	"time"
)

// Kline is one candle as returned by the market kline endpoint.
type Kline struct {
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64
}

// Position is the exchange-side view of one open position.
type Position struct {
	Symbol       string
	Side         string
	Size         float64
	AvgPrice     float64
	TrailingStop float64
	StopLoss     float64
	UpdatedAt    time.Time
}

// APIError is a non-zero retCode from the exchange.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit: %d %s", e.Code, e.Msg)
}

// IntervalString maps a candle duration to Bybit's interval token
// (minutes, or D/W/M for larger frames).
func IntervalString(d time.Duration) string {
	switch d {
	case 24 * time.Hour:
		return "D"
	case 7 * 24 * time.Hour:
		return "W"
	default:
		return fmt.Sprintf("%d", int(d.Minutes()))
	}
}
