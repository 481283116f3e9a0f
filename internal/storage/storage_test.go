package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakout-bot/internal/market"
	"breakout-bot/internal/risk"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ts(hour int) time.Time {
	return time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)
}

func TestCandleRoundTrip(t *testing.T) {
	s := openTestStore(t)

	candles := []market.Candle{
		{Symbol: "BTCUSDT", Ts: ts(0), Open: 100, High: 101, Low: 99, Close: 100, Volume: 500},
		{Symbol: "BTCUSDT", Ts: ts(4), Open: 100, High: 103, Low: 100, Close: 102, Volume: 600},
		{Symbol: "BTCUSDT", Ts: ts(8), Open: 102, High: 102, Low: 98, Close: 99, Volume: 700},
	}
	require.NoError(t, s.StoreCandles(candles))

	got, err := s.GetCandles("BTCUSDT", ts(0), ts(8))
	require.NoError(t, err)
	assert.Equal(t, candles, got)
}

func TestCandleRangeIsInclusive(t *testing.T) {
	s := openTestStore(t)
	for h := 0; h < 24; h += 4 {
		require.NoError(t, s.StoreCandle(market.Candle{
			Symbol: "BTCUSDT", Ts: ts(h), Close: float64(h),
		}))
	}

	got, err := s.GetCandles("BTCUSDT", ts(4), ts(12))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ts(4), got[0].Ts)
	assert.Equal(t, ts(12), got[2].Ts)
}

func TestCandlesSeparatedBySymbol(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.StoreCandle(market.Candle{Symbol: "BTCUSDT", Ts: ts(0), Close: 1}))
	require.NoError(t, s.StoreCandle(market.Candle{Symbol: "ETHUSDT", Ts: ts(0), Close: 2}))

	got, err := s.GetCandles("BTCUSDT", ts(0), ts(0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "BTCUSDT", got[0].Symbol)
}

func TestTradeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	tr := Trade{
		Symbol:     "BTCUSDT",
		EntryTime:  ts(0),
		ExitTime:   ts(8),
		EntryPrice: 110,
		ExitPrice:  105,
		Quantity:   45.45,
		PnL:        -227.27,
		Commission: 1.5,
		ExitReason: "trailing_stop",
		OpenedTier: "none",
	}
	require.NoError(t, s.StoreTrade(tr))

	got, err := s.GetTrades("BTCUSDT", ts(0), ts(12))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tr, got[0])
}

func TestEquityRoundTrip(t *testing.T) {
	s := openTestStore(t)
	for h := 0; h < 12; h += 4 {
		require.NoError(t, s.StoreEquity(EquitySnapshot{
			Ts: ts(h), Equity: 10000 + float64(h), Cash: 5000,
		}))
	}

	got, err := s.GetEquity(ts(0), ts(8))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 10008.0, got[2].Equity)
}

func TestRiskEventRoundTrip(t *testing.T) {
	s := openTestStore(t)

	ev := risk.Event{
		Kind:  risk.EventDailyBlock,
		Ts:    ts(4),
		Loss:  0.031,
		Limit: 0.03,
	}
	require.NoError(t, s.StoreRiskEvent(ev))

	got, err := s.GetRiskEvents(ts(0), ts(8))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])

	none, err := s.GetRiskEvents(ts(8), ts(12))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.StoreCandle(market.Candle{Symbol: "BTCUSDT", Ts: ts(0), Close: 1}))
	require.NoError(t, s.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetCandles("BTCUSDT", ts(0), ts(0))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
