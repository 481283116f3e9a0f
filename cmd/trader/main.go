package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"breakout-bot/internal/alert"
	"breakout-bot/internal/cfg"
	"breakout-bot/internal/exchange/bybit"
	"breakout-bot/internal/live"
	"breakout-bot/internal/market"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/storage"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	var notify alert.Notifier
	if c.AlertsEnabled {
		if tg := alert.NewTelegram(c.TelegramToken, c.TelegramChatID); tg != nil {
			notify = tg
		}
	}

	startMetricsServer(ctx, c)

	candles := make(chan market.Candle, 64)
	errs := make(chan error, 32)

	streamSymbols := c.Symbols
	if (c.Regime.Enabled || c.Regime.ComputeWhenDisabled) && !contains(streamSymbols, c.Regime.Symbol) {
		streamSymbols = append(append([]string{}, streamSymbols...), c.Regime.Symbol)
	}

	var wg sync.WaitGroup

	ws := bybit.NewWS(c.WsURL, c.Interval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Stream(ctx, streamSymbols, candles, errs); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("websocket stream ended")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				m.WSReconnects.Inc()
				log.Warn().Err(err).Msg("stream error")
			}
		}
	}()

	client := bybit.NewREST(c.Key, c.Secret, c.BaseURL, "linear", c.RESTTimeout)
	trader := live.New(c, client, store, notify, m)

	if err := trader.Run(ctx, candles); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("trader stopped")
	}

	cancel()
	wg.Wait()
	log.Info().Msg("shutdown complete")
}

func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

func startMetricsServer(ctx context.Context, c cfg.Settings) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", c.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
