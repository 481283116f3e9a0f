package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"breakout-bot/internal/market"
	"breakout-bot/internal/storage"
)

// DataLoader assembles validated candle series for the engine from
// CSV files or the local candle store.
type DataLoader struct {
	interval time.Duration
	series   map[string]*market.Series
}

// NewDataLoader creates a loader for the given candle interval.
func NewDataLoader(interval time.Duration) *DataLoader {
	return &DataLoader{
		interval: interval,
		series:   make(map[string]*market.Series),
	}
}

// Series returns the loaded series keyed by symbol.
func (dl *DataLoader) Series() map[string]*market.Series { return dl.series }

// Get returns one loaded series, or nil when the symbol was not loaded.
func (dl *DataLoader) Get(symbol string) *market.Series { return dl.series[symbol] }

// LoadFromCSVDir loads <symbol>.csv for each symbol from dir. Each
// file must carry a header with timestamp, open, high, low, close,
// volume columns; extra columns are ignored. A symbol whose stream
// has gaps or disordered timestamps is excluded and the rest keep
// loading; malformed files still fail the load.
func (dl *DataLoader) LoadFromCSVDir(dir string, symbols []string) error {
	for _, symbol := range symbols {
		path := filepath.Join(dir, symbol+".csv")
		err := dl.LoadFromCSV(path, symbol)
		if err == nil {
			continue
		}
		if excludeOnGap(symbol, err) {
			continue
		}
		return err
	}
	return nil
}

// LoadFromCSV loads one symbol's candles from a CSV file.
func (dl *DataLoader) LoadFromCSV(filePath, symbol string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	indices := make(map[string]int)
	for i, col := range header {
		indices[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := indices[col]; !ok {
			return fmt.Errorf("%s: missing column %q", filePath, col)
		}
	}

	var candles []market.Candle
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("%s line %d: %w", filePath, line, err)
		}

		ts, err := parseTimestamp(record[indices["timestamp"]])
		if err != nil {
			return fmt.Errorf("%s line %d: %w", filePath, line, err)
		}

		c := market.Candle{Symbol: symbol, Ts: ts}
		for col, dst := range map[string]*float64{
			"open":   &c.Open,
			"high":   &c.High,
			"low":    &c.Low,
			"close":  &c.Close,
			"volume": &c.Volume,
		} {
			v, err := strconv.ParseFloat(record[indices[col]], 64)
			if err != nil {
				return fmt.Errorf("%s line %d: bad %s: %w", filePath, line, col, err)
			}
			*dst = v
		}
		candles = append(candles, c)
	}

	series, err := market.BuildSeries(symbol, dl.interval, candles)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, err)
	}
	dl.series[symbol] = series

	log.Info().
		Str("symbol", symbol).
		Str("file", filePath).
		Int("candles", series.Len()).
		Msg("CSV data loaded")
	return nil
}

// LoadFromStore loads symbols from the local candle store. Symbols
// with gapped or disordered candles are excluded, as in LoadFromCSVDir.
func (dl *DataLoader) LoadFromStore(store *storage.Store, symbols []string, startTime, endTime time.Time) error {
	for _, symbol := range symbols {
		candles, err := store.GetCandles(symbol, startTime, endTime)
		if err != nil {
			return fmt.Errorf("failed to load candles for %s: %w", symbol, err)
		}
		series, err := market.BuildSeries(symbol, dl.interval, candles)
		if err != nil {
			if excludeOnGap(symbol, err) {
				continue
			}
			return fmt.Errorf("%s: %w", symbol, err)
		}
		dl.series[symbol] = series

		log.Info().
			Str("symbol", symbol).
			Int("candles", series.Len()).
			Msg("store data loaded")
	}
	return nil
}

// excludeOnGap logs and absorbs candle-continuity defects so one bad
// symbol cannot abort a multi-symbol load. Other errors pass through.
func excludeOnGap(symbol string, err error) bool {
	var gapErr *market.GapError
	if !errors.As(err, &gapErr) {
		return false
	}
	log.Warn().
		Str("symbol", symbol).
		Str("kind", gapErr.Kind).
		Time("at", gapErr.At).
		Msg("symbol excluded: candle stream not continuous")
	return true
}

// parseTimestamp accepts unix seconds, unix milliseconds, RFC 3339,
// or "2006-01-02 15:04:05" (read as UTC).
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
