// Package live runs the strategy against a real exchange. It reuses
// the same signal, sizing, position, and risk machinery as the
// backtester; only the fill path differs.
package live

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"breakout-bot/internal/alert"
	"breakout-bot/internal/cfg"
	"breakout-bot/internal/exchange/bybit"
	"breakout-bot/internal/indicator"
	"breakout-bot/internal/market"
	"breakout-bot/internal/metrics"
	"breakout-bot/internal/position"
	"breakout-bot/internal/risk"
	"breakout-bot/internal/signal"
	"breakout-bot/internal/sim"
	"breakout-bot/internal/sizing"
	"breakout-bot/internal/storage"
)

// Exchange is the subset of the REST client the trader needs.
type Exchange interface {
	Place(symbol, side string, qty float64) (string, error)
	SetTrailingStop(symbol string, distance float64) error
	SetStopLoss(symbol string, price float64) error
	GetPosition(symbol string) (*bybit.Position, error)
	WalletBalance() (float64, error)
	GetCandles(symbol string, interval time.Duration, start, end time.Time, limit int) ([]market.Candle, error)
}

const (
	orderRetries  = 3
	retryBackoff  = time.Second
	warmupPadding = 10
)

// Trader consumes closed candles and drives entries and exits on the
// exchange. State is confined to the Run goroutine; no locks needed.
type Trader struct {
	config cfg.Settings
	client Exchange
	store  *storage.Store
	notify alert.Notifier
	m      *metrics.Metrics

	indicators map[string]*indicator.Engine
	gen        *signal.Generator
	regime     *signal.RegimeFilter
	sizer      *sizing.Sizer
	governor   *risk.Governor
	sim        *sim.Simulator

	positions map[string]*position.Position
	lastPx    map[string]float64
	entryFees map[string]float64
	realized  float64
}

// New wires a trader. store and notify may be nil.
func New(config cfg.Settings, client Exchange, store *storage.Store, notify alert.Notifier, m *metrics.Metrics) *Trader {
	t := &Trader{
		config:     config,
		client:     client,
		store:      store,
		notify:     notify,
		m:          m,
		indicators: make(map[string]*indicator.Engine),
		gen:        signal.NewGenerator(config.Strategy, config.Risk.TrailPct),
		regime:     signal.NewRegimeFilter(config.Regime),
		sizer:      sizing.New(config.Risk),
		sim:        sim.New(config.Exec),
		positions:  make(map[string]*position.Position),
		lastPx:     make(map[string]float64),
		entryFees:  make(map[string]float64),
	}
	st := config.Strategy
	for _, s := range config.Symbols {
		t.indicators[s] = indicator.New(indicator.Config{
			BBPeriod:     st.BBPeriod,
			BBStdDev:     st.BBStdDev,
			Lookback:     st.LookbackPeriod,
			VolumePeriod: st.VolumePeriod,
			MAPeriod:     st.MAPeriod,
			ADXPeriod:    st.ADXPeriod,
		})
	}
	return t
}

// Run warms up from candle history, then consumes the stream until
// the context is cancelled.
func (t *Trader) Run(ctx context.Context, candles <-chan market.Candle) error {
	if err := t.warmup(ctx); err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	equity, err := t.accountEquity()
	if err != nil {
		return fmt.Errorf("initial balance query failed: %w", err)
	}
	t.governor = risk.NewGovernor(t.config.Risk, time.Now().UTC())
	t.governor.Observe(equity)
	t.governor.SetNotifier(t.onRiskEvent)

	reconcile := time.NewTicker(t.config.CheckInterval)
	defer reconcile.Stop()

	log.Info().
		Float64("equity", equity).
		Strs("symbols", t.config.Symbols).
		Bool("dry_run", t.config.DryRun).
		Msg("live trader started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconcile.C:
			t.reconcilePositions()
		case c, ok := <-candles:
			if !ok {
				return fmt.Errorf("candle stream closed")
			}
			t.onCandle(c)
		}
	}
}

// warmup seeds indicators from REST history so signals are available
// immediately instead of after a full lookback of live candles.
func (t *Trader) warmup(ctx context.Context) error {
	st := t.config.Strategy
	need := st.LookbackPeriod + st.BBPeriod + warmupPadding
	if st.MAPeriod > st.BBPeriod {
		need = st.LookbackPeriod + st.MAPeriod + warmupPadding
	}

	for _, sym := range t.config.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		candles, err := t.client.GetCandles(sym, t.config.Interval, time.Time{}, time.Time{}, need)
		if err != nil {
			return fmt.Errorf("history for %s: %w", sym, err)
		}
		for _, c := range candles {
			t.indicators[sym].Update(c)
			t.lastPx[sym] = c.Close
		}
		log.Info().Str("symbol", sym).Int("candles", len(candles)).Bool("warm", t.indicators[sym].Warm()).Msg("indicator warmup")
	}

	if t.regime.Computed() {
		rc := t.config.Regime
		need := rc.MAPeriod + rc.HighLookback + warmupPadding
		candles, err := t.client.GetCandles(rc.Symbol, t.config.Interval, time.Time{}, time.Time{}, need)
		if err != nil {
			return fmt.Errorf("regime history for %s: %w", rc.Symbol, err)
		}
		for _, c := range candles {
			t.regime.Update(c)
		}
	}
	return nil
}

// onCandle handles one closed candle: indicator update, exit check,
// then entry evaluation, then a governor equity observation.
func (t *Trader) onCandle(c market.Candle) {
	if t.m != nil {
		t.m.CandlesReceived.Inc()
	}

	if t.regime.Computed() && c.Symbol == t.config.Regime.Symbol {
		t.regime.Update(c)
	}

	eng, ok := t.indicators[c.Symbol]
	if !ok {
		return
	}
	eng.Update(c)
	t.lastPx[c.Symbol] = c.Close

	t.checkExit(c)
	t.checkEntry(c)

	equity, err := t.accountEquity()
	if err != nil {
		log.Warn().Err(err).Msg("equity query failed")
		if t.m != nil {
			t.m.ErrorsTotal.Inc()
		}
		return
	}
	t.governor.Advance(c.Ts)
	t.governor.Observe(equity)
	t.publishRiskMetrics(equity)
	if t.store != nil {
		if err := t.store.StoreEquity(storage.EquitySnapshot{Ts: c.Ts, Equity: equity}); err != nil {
			log.Warn().Err(err).Msg("equity snapshot store failed")
		}
	}
}

// checkExit advances the symbol's exit machine. The protective stop
// lives on the exchange; the trend exit is ours to execute.
func (t *Trader) checkExit(c market.Candle) {
	pos, held := t.positions[c.Symbol]
	if !held {
		return
	}

	snap := t.indicators[c.Symbol].Snapshot()
	reason, closed := pos.Tick(c.Close, snap.MA, t.config.Strategy.UseTrendExit)
	if !closed {
		return
	}

	// trailing and fixed stops fill on the exchange side; only the
	// trend exit needs an explicit market close from us
	if reason == position.ExitTrend {
		if err := t.placeWithRetry(c.Symbol, "Sell", pos.Quantity); err != nil {
			log.Error().Err(err).Str("symbol", c.Symbol).Msg("trend exit order failed")
			if t.m != nil {
				t.m.ErrorsTotal.Inc()
			}
			t.alert(fmt.Sprintf("🚨 %s: trend exit order failed, position still open on exchange", c.Symbol))
		}
	}
	t.settleClose(pos, c.Ts, c.Close, reason)
}

// checkEntry evaluates the breakout criteria for one symbol.
func (t *Trader) checkEntry(c market.Candle) {
	if _, held := t.positions[c.Symbol]; held {
		return
	}
	if len(t.positions) >= t.config.Risk.MaxPositions {
		return
	}

	restriction := t.governor.Restriction()
	if restriction.BlockEntries {
		t.skip(c.Symbol, sim.SkipGovernor, string(t.governor.Tier()))
		return
	}
	if !t.regime.Allows() {
		t.skip(c.Symbol, sim.SkipRegime, "")
		if t.m != nil {
			t.m.RegimeSuppressed.Inc()
		}
		return
	}

	frame, err := t.indicators[c.Symbol].Frame()
	if err != nil {
		return
	}
	sig, ok := t.gen.Evaluate(c.Symbol, frame)
	if !ok {
		return
	}
	if t.m != nil {
		t.m.SignalsGenerated.Inc()
	}
	if !t.sim.Liquid(c) {
		t.skip(c.Symbol, sim.SkipLiquidity, "")
		return
	}

	equity, err := t.accountEquity()
	if err != nil {
		log.Warn().Err(err).Msg("equity query failed, entry skipped")
		return
	}
	stopPrice := c.Close * (1 - t.config.Risk.TrailPct)
	decision, err := t.sizer.Size(c.Symbol, equity, c.Close, stopPrice, restriction.RiskScale)
	if err != nil {
		t.skip(c.Symbol, sim.SkipSizing, err.Error())
		return
	}

	t.open(sig, c, decision)
}

// open places the entry order and arms the exchange-side stop.
func (t *Trader) open(sig signal.Signal, c market.Candle, decision sizing.Decision) {
	if err := t.placeWithRetry(c.Symbol, "Buy", decision.Quantity); err != nil {
		log.Error().Err(err).Str("symbol", c.Symbol).Msg("entry order failed")
		if t.m != nil {
			t.m.ErrorsTotal.Inc()
		}
		return
	}

	pos := position.Open(c.Symbol, c.Ts, c.Close, decision.Quantity,
		t.config.Risk.TrailPct, decision.RiskAmount, string(t.governor.Tier()))
	t.positions[c.Symbol] = pos
	t.entryFees[c.Symbol] = t.sim.Commission(decision.Notional)

	t.armStop(pos, c.Close)

	if t.m != nil {
		t.m.OrdersTotal.Inc()
		t.m.ActivePositions.Set(float64(len(t.positions)))
	}
	log.Info().
		Str("symbol", c.Symbol).
		Float64("price", c.Close).
		Float64("qty", decision.Quantity).
		Float64("strength", sig.Strength).
		Msg("opened position")
}

// armStop arms the server-side trailing stop, falling back to a
// fixed stop at the initial stop price if the exchange rejects it.
func (t *Trader) armStop(pos *position.Position, price float64) {
	if t.config.DryRun {
		return
	}
	distance := price * t.config.Risk.TrailPct

	var err error
	for attempt := 0; attempt < orderRetries; attempt++ {
		if err = t.client.SetTrailingStop(pos.Symbol, distance); err == nil {
			return
		}
		if t.m != nil {
			t.m.OrderRetries.Inc()
		}
		time.Sleep(retryBackoff << attempt)
	}

	log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("trailing stop rejected, falling back to fixed stop")
	pos.FallbackFixedStop()
	if t.m != nil {
		t.m.StopFallbacks.Inc()
	}
	if err := t.client.SetStopLoss(pos.Symbol, pos.InitialStop); err != nil {
		log.Error().Err(err).Str("symbol", pos.Symbol).Msg("fixed stop failed, position unprotected")
		if t.m != nil {
			t.m.ErrorsTotal.Inc()
		}
		t.alert(fmt.Sprintf("🚨 %s: no protective stop on exchange", pos.Symbol))
	}
}

// placeWithRetry submits a market order with bounded retries.
func (t *Trader) placeWithRetry(symbol, side string, qty float64) error {
	if t.config.DryRun {
		log.Info().Str("symbol", symbol).Str("side", side).Float64("qty", qty).Msg("dry run: order suppressed")
		return nil
	}

	var err error
	for attempt := 0; attempt < orderRetries; attempt++ {
		var orderID string
		if orderID, err = t.client.Place(symbol, side, qty); err == nil {
			log.Debug().Str("symbol", symbol).Str("order_id", orderID).Msg("order placed")
			return nil
		}
		if t.m != nil {
			t.m.OrderRetries.Inc()
		}
		log.Warn().Err(err).Str("symbol", symbol).Int("attempt", attempt+1).Msg("order attempt failed")
		time.Sleep(retryBackoff << attempt)
	}
	return fmt.Errorf("order failed after %d attempts: %w", orderRetries, err)
}

// reconcilePositions detects exchange-side closes (stop fills) that
// happened between candles and settles them locally.
func (t *Trader) reconcilePositions() {
	for sym, pos := range t.positions {
		if t.config.DryRun {
			continue
		}
		exchPos, err := t.client.GetPosition(sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("position query failed")
			if t.m != nil {
				t.m.ErrorsTotal.Inc()
			}
			continue
		}
		if exchPos != nil {
			continue // still open on the exchange
		}

		log.Info().Str("symbol", sym).Msg("position closed on exchange, reconciling")
		pos.ReconcileExternalClose("")
		t.settleClose(pos, time.Now().UTC(), t.lastPx[sym], pos.Reason())
	}
}

// settleClose records a closed trade, updates the governor, and
// notifies.
func (t *Trader) settleClose(pos *position.Position, ts time.Time, exitPrice float64, reason position.ExitReason) {
	delete(t.positions, pos.Symbol)
	entryFee := t.entryFees[pos.Symbol]
	delete(t.entryFees, pos.Symbol)
	exitFee := t.sim.Commission(pos.Quantity * exitPrice)

	pnl := (exitPrice-pos.EntryPrice)*pos.Quantity - entryFee - exitFee
	t.realized += pnl

	if t.m != nil {
		t.m.TradesClosed.WithLabelValues(string(reason)).Inc()
		t.m.ActivePositions.Set(float64(len(t.positions)))
		t.m.PnLTotal.Set(t.realized)
	}

	if t.store != nil {
		err := t.store.StoreTrade(storage.Trade{
			Symbol:     pos.Symbol,
			EntryTime:  pos.EntryTime,
			ExitTime:   ts,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  exitPrice,
			Quantity:   pos.Quantity,
			PnL:        pnl,
			Commission: entryFee + exitFee,
			ExitReason: string(reason),
			OpenedTier: pos.OpenedTier,
		})
		if err != nil {
			log.Warn().Err(err).Msg("trade store failed")
		}
	}

	equity, err := t.accountEquity()
	if err == nil {
		t.governor.Observe(equity)
		t.publishRiskMetrics(equity)
	}

	t.alert(alert.TradeText(pos.Symbol, pnl, string(reason)))
	log.Info().
		Str("symbol", pos.Symbol).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Str("reason", string(reason)).
		Msg("closed position")
}

// accountEquity queries the wallet, or derives equity from local
// state in dry-run mode.
func (t *Trader) accountEquity() (float64, error) {
	if t.config.DryRun {
		equity := t.config.Risk.InitialCapital + t.realized
		for sym, pos := range t.positions {
			equity += (t.lastPx[sym] - pos.EntryPrice) * pos.Quantity
		}
		return equity, nil
	}
	return t.client.WalletBalance()
}

func (t *Trader) onRiskEvent(ev risk.Event) {
	if t.m != nil {
		t.m.RiskEvents.WithLabelValues(string(ev.Kind)).Inc()
	}
	if t.store != nil {
		if err := t.store.StoreRiskEvent(ev); err != nil {
			log.Warn().Err(err).Msg("risk event store failed")
		}
	}
	t.alert(alert.RiskEventText(ev))
}

func (t *Trader) publishRiskMetrics(equity float64) {
	if t.m == nil {
		return
	}
	t.m.Equity.Set(equity)
	t.m.GovernorTier.Set(metrics.TierValue(string(t.governor.Tier())))
	if peak := t.governor.PeakEquity(); peak > 0 {
		t.m.DrawdownPct.Set((peak - equity) / peak * 100)
	}
}

func (t *Trader) skip(symbol string, reason sim.SkipReason, detail string) {
	if t.m != nil {
		t.m.EntriesSkipped.WithLabelValues(string(reason)).Inc()
	}
	log.Debug().Str("symbol", symbol).Str("reason", string(reason)).Str("detail", detail).Msg("entry skipped")
}

func (t *Trader) alert(text string) {
	if t.notify != nil {
		t.notify.Notify(text)
	}
}
