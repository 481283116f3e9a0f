// Package storage provides persistent data storage for the breakout
// bot. It uses BoltDB as the underlying engine to store candle
// history, executed trades, equity snapshots, and risk events.
//
// All operations are safe for concurrent use and keys are laid out
// for efficient time-range scans.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"breakout-bot/internal/market"
	"breakout-bot/internal/risk"
)

const (
	candlesBucket = "candles"
	tradesBucket  = "trades"
	equityBucket  = "equity"
	eventsBucket  = "risk_events"
)

// Trade is one executed round trip, recorded by the live trader or
// imported from a backtest run.
type Trade struct {
	Symbol     string    `json:"symbol"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	ExitReason string    `json:"exit_reason"`
	OpenedTier string    `json:"opened_tier"`
}

// EquitySnapshot is one point-in-time account valuation.
type EquitySnapshot struct {
	Ts     time.Time `json:"ts"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}

// Store provides persistent storage using BoltDB. It manages one
// bucket per data type and provides time-range queries for each.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database under dataPath and ensures all
// buckets exist.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "breakout-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{candlesBucket, tradesBucket, equityBucket, eventsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// timeKey builds a "symbol_nanos" key. Nanos are zero-padded so the
// lexicographic bucket order matches time order.
func timeKey(symbol string, ts time.Time) []byte {
	return []byte(fmt.Sprintf("%s_%019d", symbol, ts.UnixNano()))
}

// StoreCandle upserts one candle.
func (s *Store) StoreCandle(c market.Candle) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putCandle(tx, c)
	})
}

// StoreCandles upserts a batch of candles in one transaction.
func (s *Store) StoreCandles(candles []market.Candle) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, c := range candles {
			if err := putCandle(tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func putCandle(tx *bbolt.Tx, c market.Candle) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candle: %w", err)
	}
	return tx.Bucket([]byte(candlesBucket)).Put(timeKey(c.Symbol, c.Ts), data)
}

// GetCandles retrieves candles for a symbol within [start, end],
// ordered by timestamp.
func (s *Store) GetCandles(symbol string, start, end time.Time) ([]market.Candle, error) {
	var candles []market.Candle
	err := s.scanRange(candlesBucket, symbol, start, end, func(v []byte) error {
		var c market.Candle
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		candles = append(candles, c)
		return nil
	})
	return candles, err
}

// StoreTrade appends one executed trade, keyed by exit time.
func (s *Store) StoreTrade(t Trade) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trade: %w", err)
		}
		return tx.Bucket([]byte(tradesBucket)).Put(timeKey(t.Symbol, t.ExitTime), data)
	})
}

// GetTrades retrieves executed trades for a symbol within [start, end].
func (s *Store) GetTrades(symbol string, start, end time.Time) ([]Trade, error) {
	var trades []Trade
	err := s.scanRange(tradesBucket, symbol, start, end, func(v []byte) error {
		var t Trade
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		trades = append(trades, t)
		return nil
	})
	return trades, err
}

// StoreEquity appends one equity snapshot. Snapshots are global, not
// per symbol, so the key prefix is a fixed tag.
func (s *Store) StoreEquity(snap EquitySnapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal equity snapshot: %w", err)
		}
		return tx.Bucket([]byte(equityBucket)).Put(timeKey("equity", snap.Ts), data)
	})
}

// GetEquity retrieves equity snapshots within [start, end].
func (s *Store) GetEquity(start, end time.Time) ([]EquitySnapshot, error) {
	var snaps []EquitySnapshot
	err := s.scanRange(equityBucket, "equity", start, end, func(v []byte) error {
		var snap EquitySnapshot
		if err := json.Unmarshal(v, &snap); err != nil {
			return err
		}
		snaps = append(snaps, snap)
		return nil
	})
	return snaps, err
}

// StoreRiskEvent appends one risk governor event.
func (s *Store) StoreRiskEvent(ev risk.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal risk event: %w", err)
		}
		return tx.Bucket([]byte(eventsBucket)).Put(timeKey(string(ev.Kind), ev.Ts), data)
	})
}

// GetRiskEvents retrieves all risk events within [start, end],
// regardless of kind.
func (s *Store) GetRiskEvents(start, end time.Time) ([]risk.Event, error) {
	var events []risk.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(eventsBucket)).ForEach(func(k, v []byte) error {
			var ev risk.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return nil // skip malformed records
			}
			if ev.Ts.Before(start) || ev.Ts.After(end) {
				return nil
			}
			events = append(events, ev)
			return nil
		})
	})
	return events, err
}

// scanRange walks one symbol's keys within [start, end] using a
// cursor seek on the zero-padded time key.
func (s *Store) scanRange(bucketName, symbol string, start, end time.Time, fn func(v []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()

		prefix := []byte(symbol + "_")
		startKey := timeKey(symbol, start)
		endKey := timeKey(symbol, end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			if !bytes.HasPrefix(k, prefix) {
				continue
			}
			if err := fn(v); err != nil {
				continue // skip malformed records
			}
		}
		return nil
	})
}
