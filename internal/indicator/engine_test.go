package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"breakout-bot/internal/market"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{BBPeriod: 3, BBStdDev: 1.0, Lookback: 4, VolumePeriod: 3, MAPeriod: 3, ADXPeriod: 2}
}

func feed(e *Engine, closes []float64, volumes []float64) {
	for i, c := range closes {
		v := 100.0
		if volumes != nil {
			v = volumes[i]
		}
		e.Update(market.Candle{
			Symbol: "BTCUSDT",
			Ts:     base.Add(time.Duration(i) * 4 * time.Hour),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: v,
		})
	}
}

func TestFrameErrorsUntilLookbackFills(t *testing.T) {
	e := New(testConfig())
	feed(e, []float64{100, 101, 102, 103, 104}, nil)

	if _, err := e.Frame(); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if e.Warm() {
		t.Error("engine must not be warm with a partial lookback")
	}

	// the sixth candle completes the width lookback
	feed2 := market.Candle{Symbol: "BTCUSDT", Ts: base.Add(5 * 4 * time.Hour), Open: 105, High: 106, Low: 104, Close: 105, Volume: 100}
	e.Update(feed2)
	if _, err := e.Frame(); err != nil {
		t.Fatalf("expected frame once warm, got %v", err)
	}
	if !e.Warm() {
		t.Error("engine should be warm")
	}
}

func TestBollingerBands(t *testing.T) {
	e := New(testConfig())
	feed(e, []float64{100, 101, 102}, nil)

	f := e.Snapshot()
	// mean 101, sample std 1, one deviation wide
	if math.Abs(f.MiddleBand-101) > 1e-9 {
		t.Errorf("expected middle 101, got %f", f.MiddleBand)
	}
	if math.Abs(f.UpperBand-102) > 1e-9 {
		t.Errorf("expected upper 102, got %f", f.UpperBand)
	}
	if math.Abs(f.LowerBand-100) > 1e-9 {
		t.Errorf("expected lower 100, got %f", f.LowerBand)
	}
	if math.Abs(f.MA-101) > 1e-9 {
		t.Errorf("expected MA 101, got %f", f.MA)
	}
}

func TestVolumeRatio(t *testing.T) {
	e := New(testConfig())
	feed(e, []float64{100, 100, 100}, []float64{100, 100, 300})

	f := e.Snapshot()
	// 300 against a trailing mean of 166.67
	if math.Abs(f.VolumeRatio-1.8) > 1e-9 {
		t.Errorf("expected volume ratio 1.8, got %f", f.VolumeRatio)
	}
}

func TestPercentileRankConstantWidths(t *testing.T) {
	e := New(testConfig())
	// constant closes give zero-width bands; the current width ties
	// every earlier one and an earlier tie ranks below the current
	// candle, so the rank is 100.
	feed(e, []float64{100, 100, 100, 100, 100, 100}, nil)

	f, err := e.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.BandwidthPct != 100 {
		t.Errorf("expected percentile 100 for all-tied widths, got %f", f.BandwidthPct)
	}
}

func TestPercentileRankAfterCompression(t *testing.T) {
	e := New(testConfig())
	// volatile start, then quiet: the current width is the narrowest
	// in the window
	feed(e, []float64{100, 120, 80, 100, 101, 102}, nil)

	f, err := e.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.BandwidthPct != 0 {
		t.Errorf("expected percentile 0 for the narrowest width, got %f", f.BandwidthPct)
	}
}

func TestOutOfOrderCandleIgnored(t *testing.T) {
	e := New(testConfig())
	feed(e, []float64{100, 101, 102}, nil)

	before := e.Snapshot()
	e.Update(market.Candle{Symbol: "BTCUSDT", Ts: base, Close: 999, Volume: 100})
	after := e.Snapshot()

	if !after.Ts.Equal(before.Ts) || after.Close != before.Close {
		t.Errorf("stale candle must not change state: before %+v after %+v", before, after)
	}
}

func TestADXTrending(t *testing.T) {
	adx := NewADX(2)
	for i := 0; i < 20; i++ {
		c := 100 + float64(i)*2
		adx.Update(market.Candle{
			Ts:    base.Add(time.Duration(i) * 4 * time.Hour),
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		})
	}
	if !adx.Warm() {
		t.Fatal("adx should be warm")
	}
	if adx.Value() < 90 {
		t.Errorf("steady uptrend should read near 100, got %f", adx.Value())
	}
}

func TestADXFlat(t *testing.T) {
	adx := NewADX(2)
	for i := 0; i < 20; i++ {
		adx.Update(market.Candle{
			Ts:    base.Add(time.Duration(i) * 4 * time.Hour),
			High:  101,
			Low:   99,
			Close: 100,
		})
	}
	if adx.Value() != 0 {
		t.Errorf("flat series should read 0, got %f", adx.Value())
	}
}

func TestADXNotWarmEarly(t *testing.T) {
	adx := NewADX(14)
	for i := 0; i < 10; i++ {
		adx.Update(market.Candle{Ts: base.Add(time.Duration(i) * time.Hour), High: 101, Low: 99, Close: 100})
	}
	if adx.Warm() {
		t.Error("adx must not be warm before period+1 candles")
	}
}
