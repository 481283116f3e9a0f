package sizing

import (
	"errors"
	"math"
	"testing"

	"breakout-bot/internal/cfg"
)

func testSizer(riskPerTrade, cap float64) *Sizer {
	return New(cfg.RiskSettings{RiskPerTrade: riskPerTrade, PerPositionCap: cap})
}

func TestSizeRiskBased(t *testing.T) {
	s := testSizer(0.05, 1.0)

	// 10000 * 0.05 / (100 - 90) = 50 units
	d, err := s.Size("BTCUSDT", 10000, 100, 90, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Quantity != 50 {
		t.Errorf("expected quantity 50, got %f", d.Quantity)
	}
	if d.Notional != 5000 {
		t.Errorf("expected notional 5000, got %f", d.Notional)
	}
	if d.RiskAmount != 500 {
		t.Errorf("expected risk amount 500, got %f", d.RiskAmount)
	}
	if d.EffectiveRisk != 0.05 {
		t.Errorf("expected effective risk 0.05, got %f", d.EffectiveRisk)
	}
}

func TestSizeNotionalCap(t *testing.T) {
	s := testSizer(0.05, 0.20)

	// uncapped quantity would be 50 (notional 5000); cap is 2000
	d, err := s.Size("BTCUSDT", 10000, 100, 90, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Notional != 2000 {
		t.Errorf("expected capped notional 2000, got %f", d.Notional)
	}
	if d.Quantity != 20 {
		t.Errorf("expected capped quantity 20, got %f", d.Quantity)
	}
}

func TestSizeRiskScaleHalves(t *testing.T) {
	s := testSizer(0.05, 1.0)

	full, err := s.Size("BTCUSDT", 10000, 100, 90, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	halved, err := s.Size("BTCUSDT", 10000, 100, 90, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(halved.Quantity-full.Quantity/2) > 1e-12 {
		t.Errorf("scaled quantity %f is not exactly half of %f", halved.Quantity, full.Quantity)
	}
	if halved.EffectiveRisk != 0.025 {
		t.Errorf("expected effective risk 0.025, got %f", halved.EffectiveRisk)
	}
}

func TestSizeDeterministic(t *testing.T) {
	s := testSizer(0.03, 0.25)

	a, errA := s.Size("ETHUSDT", 12345.67, 89.12, 80.2, 1.0)
	b, errB := s.Size("ETHUSDT", 12345.67, 89.12, 80.2, 1.0)
	if errA != nil || errB != nil {
		t.Fatalf("unexpected errors: %v %v", errA, errB)
	}
	if a != b {
		t.Errorf("identical inputs produced different decisions: %+v vs %+v", a, b)
	}
}

func TestSizeViolations(t *testing.T) {
	s := testSizer(0.05, 0.20)

	cases := []struct {
		name       string
		equity     float64
		entry      float64
		stop       float64
		riskScale  float64
	}{
		{"zero equity", 0, 100, 90, 1.0},
		{"negative equity", -10, 100, 90, 1.0},
		{"zero entry", 10000, 0, -1, 1.0},
		{"stop at entry", 10000, 100, 100, 1.0},
		{"stop above entry", 10000, 100, 110, 1.0},
		{"zero risk scale", 10000, 100, 90, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Size("BTCUSDT", tc.equity, tc.entry, tc.stop, tc.riskScale)
			if err == nil {
				t.Fatal("expected sizing error")
			}
			var se *SizingError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SizingError, got %T", err)
			}
			if se.Symbol != "BTCUSDT" {
				t.Errorf("error should carry the symbol, got %q", se.Symbol)
			}
		})
	}
}
