package sim

import (
	"math"
	"testing"
	"time"

	"breakout-bot/internal/cfg"
	"breakout-bot/internal/market"
	"breakout-bot/internal/position"
)

func testSim() *Simulator {
	return New(cfg.ExecSettings{SlippageBps: 10, CommissionRate: 0.001, MinNotional: 1_000_000})
}

func TestEntryFillSlipsAgainstBuyer(t *testing.T) {
	s := testSim()
	if got := s.EntryFill(100); math.Abs(got-100.1) > 1e-9 {
		t.Errorf("expected 100.1, got %f", got)
	}
}

func TestExitFillByReason(t *testing.T) {
	s := testSim()

	cases := []struct {
		reason position.ExitReason
		want   float64
	}{
		{position.ExitTrailingStop, 99.9},
		{position.ExitForced, 99.9},
		{position.ExitTrend, 100}, // decision on the close, no slip
	}
	for _, tc := range cases {
		if got := s.ExitFill(100, tc.reason); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: expected %f, got %f", tc.reason, tc.want, got)
		}
	}
}

func TestZeroSlippage(t *testing.T) {
	s := New(cfg.ExecSettings{SlippageBps: 0, CommissionRate: 0, MinNotional: 0})
	if got := s.EntryFill(100); got != 100 {
		t.Errorf("expected 100, got %f", got)
	}
	if got := s.ExitFill(100, position.ExitTrailingStop); got != 100 {
		t.Errorf("expected 100, got %f", got)
	}
}

func TestLiquidityGate(t *testing.T) {
	s := testSim()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	liquid := market.Candle{Symbol: "BTCUSDT", Ts: ts, Close: 100, Volume: 10000} // notional exactly at floor
	if !s.Liquid(liquid) {
		t.Error("candle at the notional floor should pass")
	}

	thin := market.Candle{Symbol: "SHIBUSDT", Ts: ts, Close: 100, Volume: 9999}
	if s.Liquid(thin) {
		t.Error("candle below the notional floor should be rejected")
	}
}

func TestCommission(t *testing.T) {
	s := testSim()
	if got := s.Commission(5000); math.Abs(got-5) > 1e-9 {
		t.Errorf("expected 5, got %f", got)
	}
}
