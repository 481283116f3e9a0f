package backtest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCSV = `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,100,101,99,100,500
2024-01-01T04:00:00Z,100,103,100,102,600
2024-01-01T08:00:00Z,102,102,98,99,700
`

func writeCSV(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromCSV(t *testing.T) {
	path := writeCSV(t, "BTCUSDT.csv", sampleCSV)

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSV(path, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	s := dl.Get("BTCUSDT")
	if s == nil {
		t.Fatal("series not registered")
	}
	candles := s.Candles
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	if candles[1].Close != 102 || candles[1].Volume != 600 {
		t.Errorf("row mapping broken: %+v", candles[1])
	}
	if !candles[0].Ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp parse broken: %v", candles[0].Ts)
	}
}

func TestLoadFromCSVUnixMillis(t *testing.T) {
	body := "timestamp,open,high,low,close,volume\n" +
		"1704067200000,100,101,99,100,500\n" +
		"1704081600000,100,103,100,102,600\n"
	path := writeCSV(t, "ETHUSDT.csv", body)

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSV(path, "ETHUSDT"); err != nil {
		t.Fatal(err)
	}
	got := dl.Get("ETHUSDT").Candles[0].Ts
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLoadFromCSVMissingColumn(t *testing.T) {
	body := "timestamp,open,high,low,close\n2024-01-01T00:00:00Z,1,1,1,1\n"
	path := writeCSV(t, "bad.csv", body)

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSV(path, "BADUSDT"); err == nil {
		t.Error("expected an error for a missing volume column")
	}
}

func TestLoadFromCSVRejectsGaps(t *testing.T) {
	body := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01T00:00:00Z,100,101,99,100,500\n" +
		"2024-01-01T12:00:00Z,100,103,100,102,600\n" // 8h gap on a 4h series
	path := writeCSV(t, "gap.csv", body)

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSV(path, "GAPUSDT"); err == nil {
		t.Error("expected a gap error")
	}
}

func TestLoadFromCSVDirExcludesGappedSymbol(t *testing.T) {
	dir := t.TempDir()
	gapped := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01T00:00:00Z,100,101,99,100,500\n" +
		"2024-01-01T12:00:00Z,100,103,100,102,600\n" // 8h jump on a 4h interval
	if err := os.WriteFile(filepath.Join(dir, "AAAUSDT.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "BBBUSDT.csv"), []byte(gapped), 0o644); err != nil {
		t.Fatal(err)
	}

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSVDir(dir, []string{"AAAUSDT", "BBBUSDT"}); err != nil {
		t.Fatalf("gapped symbol must be excluded, not fail the load: %v", err)
	}
	if dl.Get("AAAUSDT") == nil {
		t.Error("expected the clean symbol to load")
	}
	if dl.Get("BBBUSDT") != nil {
		t.Error("expected the gapped symbol to be excluded")
	}
}

func TestLoadFromCSVDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "BTCUSDT.csv"), []byte(sampleCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	dl := NewDataLoader(4 * time.Hour)
	if err := dl.LoadFromCSVDir(dir, []string{"BTCUSDT"}); err != nil {
		t.Fatal(err)
	}
	if dl.Get("BTCUSDT") == nil {
		t.Error("expected BTCUSDT loaded from directory")
	}

	if err := dl.LoadFromCSVDir(dir, []string{"MISSING"}); err == nil {
		t.Error("expected an error for an absent symbol file")
	}
}
