package backtest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"breakout-bot/internal/market"
)

func TestGenerateReportWritesAllFiles(t *testing.T) {
	data := map[string]*market.Series{
		"BTCUSDT": seriesFrom("BTCUSDT", breakoutCloses, breakoutVolumes(len(breakoutCloses))),
	}
	res, err := NewEngine(testSettings(), data, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := NewReporter(res, dir).GenerateReport(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{
		"backtest_summary.txt",
		"trade_log.csv",
		"equity_curve.csv",
		"backtest_results.json",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing report file %s: %v", name, err)
		}
	}

	summary, err := os.ReadFile(filepath.Join(dir, "backtest_summary.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(summary), "BTCUSDT") {
		t.Error("summary missing the symbol breakdown")
	}

	raw, err := os.ReadFile(filepath.Join(dir, "backtest_results.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded Results
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("json report does not round-trip: %v", err)
	}
	if decoded.FinalBalance != res.FinalBalance {
		t.Errorf("final balance lost in the json report: %f vs %f",
			decoded.FinalBalance, res.FinalBalance)
	}
}

func TestEmptyRunReport(t *testing.T) {
	// two flat candles produce no trades; reporting must still work
	closes := []float64{100, 100}
	data := map[string]*market.Series{
		"BTCUSDT": seriesFrom("BTCUSDT", closes, nil),
	}
	res, err := NewEngine(testSettings(), data, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}

	dir := t.TempDir()
	if err := NewReporter(res, dir).GenerateReport(); err != nil {
		t.Fatal(err)
	}
}
