package position

import (
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func openTest() *Position {
	return Open("BTCUSDT", t0, 100, 2, 0.10, 20, "none")
}

func TestOpenInitialState(t *testing.T) {
	p := openTest()

	if p.State() != StateOpenTrailing {
		t.Errorf("expected OPEN_TRAILING, got %v", p.State())
	}
	if p.PeakPrice != 100 {
		t.Errorf("peak should start at entry, got %f", p.PeakPrice)
	}
	if p.InitialStop != 90 {
		t.Errorf("expected initial stop 90, got %f", p.InitialStop)
	}
	if p.TrailingStop() != 90 {
		t.Errorf("expected trailing stop 90, got %f", p.TrailingStop())
	}
}

func TestTrailingStopRatchets(t *testing.T) {
	p := openTest()

	steps := []struct {
		close    float64
		wantStop float64
	}{
		{110, 99},  // new peak, stop follows
		{105, 99},  // pullback, stop holds
		{120, 108}, // new peak again
		{109, 108}, // pullback above stop, stop holds
	}
	for _, s := range steps {
		if reason, closed := p.Tick(s.close, 0, false); closed {
			t.Fatalf("unexpected close at %f: %s", s.close, reason)
		}
		if p.TrailingStop() != s.wantStop {
			t.Errorf("close %f: expected stop %f, got %f", s.close, s.wantStop, p.TrailingStop())
		}
	}
}

func TestStopNeverLoosens(t *testing.T) {
	p := openTest()
	prev := p.TrailingStop()

	for _, close := range []float64{115, 100, 130, 120, 125, 118} {
		_, closed := p.Tick(close, 0, false)
		if closed {
			break
		}
		if p.TrailingStop() < prev {
			t.Fatalf("stop loosened from %f to %f at close %f", prev, p.TrailingStop(), close)
		}
		prev = p.TrailingStop()
	}
}

func TestTrailingStopExit(t *testing.T) {
	p := openTest()

	p.Tick(120, 0, false) // stop ratchets to 108
	reason, closed := p.Tick(107, 0, false)
	if !closed {
		t.Fatal("expected close at 107 with stop 108")
	}
	if reason != ExitTrailingStop {
		t.Errorf("expected trailing_stop, got %s", reason)
	}
	if !p.Closed() {
		t.Error("position should be closed")
	}
}

func TestTrendExitCheckedBeforeTrailingStop(t *testing.T) {
	// 89 is below both the 20-period average (95) and the stop (90);
	// the momentum fade must be reported as the cause.
	p := openTest()

	reason, closed := p.Tick(89, 95, true)
	if !closed {
		t.Fatal("expected close")
	}
	if reason != ExitTrend {
		t.Errorf("expected ma_exit when both conditions fire, got %s", reason)
	}
}

func TestTrendExitDisabled(t *testing.T) {
	p := openTest()

	if reason, closed := p.Tick(95, 98, false); closed {
		t.Fatalf("close below MA must not exit with trend exit disabled, got %s", reason)
	}
}

func TestTrendExitNeedsWarmMA(t *testing.T) {
	p := openTest()

	// MA of zero means the average is not available yet
	if reason, closed := p.Tick(95, 0, true); closed {
		t.Fatalf("unexpected close with unwarm MA: %s", reason)
	}
}

func TestFixedStopFallbackFreezesStop(t *testing.T) {
	p := openTest()
	p.FallbackFixedStop()

	p.Tick(130, 0, false)
	if p.TrailingStop() != 90 {
		t.Errorf("fixed stop must not ratchet, got %f", p.TrailingStop())
	}
	if p.PeakPrice != 130 {
		t.Errorf("peak still tracks price, got %f", p.PeakPrice)
	}

	reason, closed := p.Tick(89, 0, false)
	if !closed || reason != ExitTrailingStop {
		t.Errorf("expected trailing_stop exit at frozen level, got closed=%v reason=%s", closed, reason)
	}
}

func TestForceClose(t *testing.T) {
	p := openTest()

	if !p.ForceClose() {
		t.Fatal("force close on open position should succeed")
	}
	if p.Reason() != ExitForced {
		t.Errorf("expected forced, got %s", p.Reason())
	}
	if p.ForceClose() {
		t.Error("second force close must be a no-op")
	}
}

func TestClosedPositionIgnoresTicks(t *testing.T) {
	p := openTest()
	p.Tick(120, 0, false)
	p.Tick(80, 0, false) // trailing stop exit

	if reason, closed := p.Tick(200, 0, false); closed || reason != "" {
		t.Errorf("tick after close must be a no-op, got closed=%v reason=%s", closed, reason)
	}
	if p.Reason() != ExitTrailingStop {
		t.Errorf("reason must be stable after close, got %s", p.Reason())
	}
}

func TestReconcileExternalClose(t *testing.T) {
	p := openTest()

	if !p.ReconcileExternalClose("") {
		t.Fatal("reconcile on open position should succeed")
	}
	if p.Reason() != ExitTrailingStop {
		t.Errorf("empty reason should default to trailing_stop, got %s", p.Reason())
	}

	q := openTest()
	q.ReconcileExternalClose(ExitForced)
	if q.Reason() != ExitForced {
		t.Errorf("explicit reason should be kept, got %s", q.Reason())
	}
}

func TestValue(t *testing.T) {
	p := openTest()
	if v := p.Value(105); v != 210 {
		t.Errorf("expected value 210, got %f", v)
	}
}
