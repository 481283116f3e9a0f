package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"breakout-bot/internal/market"
)

// WS streams confirmed klines from the public v5 websocket.
type WS struct {
	url      string
	interval time.Duration
}

// NewWS builds a stream client for the given candle interval.
func NewWS(u string, interval time.Duration) WS {
	return WS{url: u, interval: interval}
}

// Stream delivers one candle per symbol per closed interval on the
// candles channel. It reconnects with exponential backoff until the
// context is cancelled. Only confirmed (closed) klines are emitted;
// in-progress updates are dropped.
func (w WS) Stream(ctx context.Context, symbols []string, candles chan<- market.Candle, errs chan<- error) error {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := w.streamOnce(ctx, symbols, candles, errs); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Dur("backoff", backoff).Msg("websocket connection failed, reconnecting")
				select {
				case errs <- fmt.Errorf("ws reconnect: %w", err):
				default:
				}

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return ctx.Err()
				}

				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
			backoff = time.Second
		}
	}
}

func (w WS) streamOnce(ctx context.Context, symbols []string, candles chan<- market.Candle, errs chan<- error) error {
	log.Info().Str("url", w.url).Int("symbols_count", len(symbols)).Msg("establishing websocket connection")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(512 * 1024)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	topic := "kline." + IntervalString(w.interval) + "."
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, topic+s)
	}

	log.Info().Strs("topics", args).Msg("subscribing to kline channels")
	if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()

	// the server expects an application-level ping message
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-pingTicker.C:
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		var raw struct {
			Op      string `json:"op"`
			Success bool   `json:"success"`
			Topic   string `json:"topic"`
			Data    []struct {
				Start   int64  `json:"start"`
				Open    string `json:"open"`
				High    string `json:"high"`
				Low     string `json:"low"`
				Close   string `json:"close"`
				Volume  string `json:"volume"`
				Confirm bool   `json:"confirm"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &raw); err != nil {
			log.Debug().Err(err).Str("message", string(msg)).Msg("failed to parse message")
			continue
		}

		if raw.Op == "subscribe" {
			if raw.Success {
				log.Info().Msg("subscribed to kline channels")
			} else {
				log.Warn().Str("message", string(msg)).Msg("subscription may have failed")
			}
			continue
		}
		if raw.Op == "pong" || raw.Topic == "" {
			continue
		}

		symbol := symbolFromTopic(raw.Topic)
		if symbol == "" {
			continue
		}
		for _, d := range raw.Data {
			if !d.Confirm {
				continue
			}
			c, err := parseKline(symbol, d.Start, d.Open, d.High, d.Low, d.Close, d.Volume)
			if err != nil {
				log.Debug().Err(err).Str("topic", raw.Topic).Msg("failed to parse kline")
				select {
				case errs <- fmt.Errorf("parse kline: %w", err):
				default:
				}
				continue
			}
			select {
			case candles <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// symbolFromTopic extracts the symbol from "kline.<interval>.<symbol>".
func symbolFromTopic(topic string) string {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

func parseKline(symbol string, startMs int64, open, high, low, closePx, volume string) (market.Candle, error) {
	c := market.Candle{Symbol: symbol, Ts: time.UnixMilli(startMs).UTC()}
	for _, f := range []struct {
		raw string
		dst *float64
	}{
		{open, &c.Open},
		{high, &c.High},
		{low, &c.Low},
		{closePx, &c.Close},
		{volume, &c.Volume},
	} {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return market.Candle{}, fmt.Errorf("bad field %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return c, nil
}
