// Package backtest drives the deterministic simulation: a single
// clock advanced one candle at a time across the universe, exits
// resolved before entries, fills modeled by the execution simulator,
// and every equity change fed through the risk governor.
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"breakout-bot/internal/cfg"
	"breakout-bot/internal/indicator"
	"breakout-bot/internal/market"
	"breakout-bot/internal/position"
	"breakout-bot/internal/risk"
	"breakout-bot/internal/signal"
	"breakout-bot/internal/sim"
	"breakout-bot/internal/sizing"
)

// TradeRecord is the append-only output of a closed position.
type TradeRecord struct {
	Symbol     string              `json:"symbol"`
	EntryTime  time.Time           `json:"entry_time"`
	ExitTime   time.Time           `json:"exit_time"`
	EntryPrice float64             `json:"entry_price"`
	ExitPrice  float64             `json:"exit_price"`
	Quantity   float64             `json:"quantity"`
	PnL        float64             `json:"pnl"`
	PnLPercent float64             `json:"pnl_percent"`
	Commission float64             `json:"commission"`
	ExitReason position.ExitReason `json:"exit_reason"`
	PeakPrice  float64             `json:"peak_price"`
	OpenedTier string              `json:"opened_tier"`
}

// EquityPoint is one mark-to-market step of the equity curve.
type EquityPoint struct {
	Ts             time.Time `json:"ts"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	NumPositions   int       `json:"num_positions"`
}

// Engine is one independent backtest instance. Instances share no
// mutable state, so a sweep can run many of them in parallel.
type Engine struct {
	config cfg.Settings

	data    map[string]*market.Series
	symbols []string
	cursors map[string]int
	lastPx  map[string]float64

	indicators map[string]*indicator.Engine
	gen        *signal.Generator
	regime     *signal.RegimeFilter
	regimeData *market.Series
	regimeCur  int

	sizer     *sizing.Sizer
	governor  *risk.Governor
	simulator *sim.Simulator

	positions map[string]*position.Position
	cash      float64

	results *Results
}

// NewEngine builds a backtest over preloaded, validated candle
// series. regimeData is the reference-symbol series for the market
// regime filter and may be nil when the filter is neither enabled nor
// computed for diagnostics.
func NewEngine(config cfg.Settings, data map[string]*market.Series, regimeData *market.Series) *Engine {
	symbols := make([]string, 0, len(data))
	for s := range data {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	e := &Engine{
		config:     config,
		data:       data,
		symbols:    symbols,
		cursors:    make(map[string]int),
		lastPx:     make(map[string]float64),
		indicators: make(map[string]*indicator.Engine),
		gen:        signal.NewGenerator(config.Strategy, config.Risk.TrailPct),
		regime:     signal.NewRegimeFilter(config.Regime),
		regimeData: regimeData,
		sizer:      sizing.New(config.Risk),
		simulator:  sim.New(config.Exec),
		positions:  make(map[string]*position.Position),
		cash:       config.Risk.InitialCapital,
		results:    newResults(config.Risk.InitialCapital),
	}

	st := config.Strategy
	for _, s := range symbols {
		e.indicators[s] = indicator.New(indicator.Config{
			BBPeriod:     st.BBPeriod,
			BBStdDev:     st.BBStdDev,
			Lookback:     st.LookbackPeriod,
			VolumePeriod: st.VolumePeriod,
			MAPeriod:     st.MAPeriod,
			ADXPeriod:    st.ADXPeriod,
		})
	}
	return e
}

// Governor exposes the engine's risk governor, e.g. for an external
// resume after a drawdown halt.
func (e *Engine) Governor() *risk.Governor { return e.governor }

// Run executes the simulation. Cancellation is cooperative: the
// context is checked between ticks, never mid-tick.
func (e *Engine) Run(ctx context.Context) (*Results, error) {
	clock := e.buildClock()
	if len(clock) == 0 {
		log.Warn().Msg("no candles to simulate")
		e.finalize(time.Time{})
		return e.results, nil
	}

	e.governor = risk.NewGovernor(e.config.Risk, clock[0])
	e.governor.SetNotifier(func(ev risk.Event) {
		e.results.GovernorEvents = append(e.results.GovernorEvents, ev)
	})

	log.Info().
		Time("start", clock[0]).
		Time("end", clock[len(clock)-1]).
		Int("symbols", len(e.symbols)).
		Int("ticks", len(clock)).
		Msg("starting backtest")

	for _, ts := range clock {
		if err := ctx.Err(); err != nil {
			return e.results, err
		}
		e.step(ts)
	}

	e.finalize(clock[len(clock)-1])
	return e.results, nil
}

// step processes one clock tick: boundary resets, indicator updates,
// exits, the entry gate, entries, then one mark-to-market point.
func (e *Engine) step(ts time.Time) {
	e.governor.Advance(ts)
	e.advanceRegime(ts)

	tick := make(map[string]market.Candle, len(e.symbols))
	for _, sym := range e.symbols {
		series := e.data[sym]
		cur := e.cursors[sym]
		if cur < series.Len() && series.At(cur).Ts.Equal(ts) {
			c := series.At(cur)
			e.cursors[sym] = cur + 1
			e.lastPx[sym] = c.Close
			e.indicators[sym].Update(c)
			tick[sym] = c
		}
	}

	e.checkExits(ts, tick)
	e.checkEntries(ts, tick)

	equity := e.markToMarket(ts)
	e.governor.Observe(equity)
}

// advanceRegime feeds all reference candles up to and including ts.
func (e *Engine) advanceRegime(ts time.Time) {
	if e.regimeData == nil || !e.regime.Computed() {
		return
	}
	for e.regimeCur < e.regimeData.Len() && !e.regimeData.At(e.regimeCur).Ts.After(ts) {
		e.regime.Update(e.regimeData.At(e.regimeCur))
		e.regimeCur++
	}
}

// checkExits advances every open position's exit machine, strictly
// before entry evaluation, in fixed symbol order.
func (e *Engine) checkExits(ts time.Time, tick map[string]market.Candle) {
	for _, sym := range e.symbols {
		pos, held := e.positions[sym]
		if !held {
			continue
		}
		c, ok := tick[sym]
		if !ok {
			continue
		}

		snap := e.indicators[sym].Snapshot()
		reason, closed := pos.Tick(c.Close, snap.MA, e.config.Strategy.UseTrendExit)
		if closed {
			e.closePosition(pos, ts, c.Close, reason)
		}
	}
}

// checkEntries ranks qualifying signals and fills them subject to the
// governor gate, the regime filter, liquidity, sizing, and slots.
func (e *Engine) checkEntries(ts time.Time, tick map[string]market.Candle) {
	restriction := e.governor.Restriction()
	if restriction.BlockEntries {
		e.results.addSkip(sim.Skip{Ts: ts, Reason: sim.SkipGovernor, Detail: string(e.governor.Tier())})
		return
	}
	if !e.regime.Allows() {
		e.results.addSkip(sim.Skip{Ts: ts, Reason: sim.SkipRegime})
		return
	}

	var candidates []signal.Signal
	for _, sym := range e.symbols {
		if _, held := e.positions[sym]; held {
			continue
		}
		if _, ok := tick[sym]; !ok {
			continue
		}
		frame, err := e.indicators[sym].Frame()
		if err != nil {
			continue // lookback still filling; no signal, not a fault
		}
		if sig, ok := e.gen.Evaluate(sym, frame); ok {
			candidates = append(candidates, sig)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return signal.Less(candidates[i], candidates[j]) })

	for _, sig := range candidates {
		if len(e.positions) >= e.config.Risk.MaxPositions {
			e.results.addSkip(sim.Skip{Symbol: sig.Symbol, Ts: ts, Reason: sim.SkipSlots})
			continue
		}
		e.tryOpen(sig, tick[sig.Symbol], restriction.RiskScale)
	}
}

// tryOpen fills one ranked signal, applying the liquidity gate and
// risk-based sizing.
func (e *Engine) tryOpen(sig signal.Signal, c market.Candle, riskScale float64) {
	if !e.simulator.Liquid(c) {
		e.results.addSkip(sim.Skip{Symbol: sig.Symbol, Ts: sig.Ts, Reason: sim.SkipLiquidity})
		return
	}

	entryPrice := e.simulator.EntryFill(c.Close)
	stopPrice := entryPrice * (1 - e.config.Risk.TrailPct)
	equity := e.equity()

	decision, err := e.sizer.Size(sig.Symbol, equity, entryPrice, stopPrice, riskScale)
	if err != nil {
		log.Debug().Err(err).Str("symbol", sig.Symbol).Time("ts", sig.Ts).Msg("entry skipped")
		e.results.addSkip(sim.Skip{Symbol: sig.Symbol, Ts: sig.Ts, Reason: sim.SkipSizing, Detail: err.Error()})
		return
	}

	commission := e.simulator.Commission(decision.Notional)
	e.cash -= decision.Notional + commission

	pos := position.Open(sig.Symbol, sig.Ts, entryPrice, decision.Quantity,
		e.config.Risk.TrailPct, decision.RiskAmount, string(e.governor.Tier()))
	e.positions[sig.Symbol] = pos
	e.results.entryCommissions[sig.Symbol] = commission

	log.Debug().
		Str("symbol", sig.Symbol).
		Time("ts", sig.Ts).
		Float64("price", entryPrice).
		Float64("qty", decision.Quantity).
		Float64("strength", sig.Strength).
		Float64("risk", decision.RiskAmount).
		Msg("opened position")
}

// closePosition settles a closed position and records the trade. The
// governor observes the post-close equity exactly once.
func (e *Engine) closePosition(pos *position.Position, ts time.Time, close float64, reason position.ExitReason) {
	exitPrice := e.simulator.ExitFill(close, reason)
	exitCommission := e.simulator.Commission(pos.Quantity * exitPrice)
	entryCommission := e.results.entryCommissions[pos.Symbol]
	delete(e.results.entryCommissions, pos.Symbol)

	e.cash += pos.Quantity*exitPrice - exitCommission
	delete(e.positions, pos.Symbol)

	pnl := (exitPrice-pos.EntryPrice)*pos.Quantity - entryCommission - exitCommission
	cost := pos.EntryPrice * pos.Quantity

	record := TradeRecord{
		Symbol:     pos.Symbol,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnl / cost * 100,
		Commission: entryCommission + exitCommission,
		ExitReason: reason,
		PeakPrice:  pos.PeakPrice,
		OpenedTier: pos.OpenedTier,
	}
	e.results.Trades = append(e.results.Trades, record)

	e.governor.Observe(e.equity())

	log.Debug().
		Str("symbol", pos.Symbol).
		Time("ts", ts).
		Float64("entry", pos.EntryPrice).
		Float64("exit", exitPrice).
		Float64("pnl", pnl).
		Str("reason", string(reason)).
		Msg("closed position")
}

// equity is cash plus the mark-to-market value of open positions at
// the last seen close.
func (e *Engine) equity() float64 {
	eq := e.cash
	for sym, pos := range e.positions {
		eq += pos.Value(e.lastPx[sym])
	}
	return eq
}

// markToMarket appends one equity-curve point for the tick.
func (e *Engine) markToMarket(ts time.Time) float64 {
	var positionsValue float64
	for sym, pos := range e.positions {
		positionsValue += pos.Value(e.lastPx[sym])
	}
	equity := e.cash + positionsValue
	e.results.EquityCurve = append(e.results.EquityCurve, EquityPoint{
		Ts:             ts,
		Equity:         equity,
		Cash:           e.cash,
		PositionsValue: positionsValue,
		NumPositions:   len(e.positions),
	})
	return equity
}

// finalize force-closes any remaining positions and computes metrics.
func (e *Engine) finalize(ts time.Time) {
	for _, sym := range e.symbols {
		pos, held := e.positions[sym]
		if !held {
			continue
		}
		if pos.ForceClose() {
			e.closePosition(pos, ts, e.lastPx[sym], position.ExitForced)
		}
	}

	e.results.FinalBalance = e.cash
	e.results.RegimeSuppressedTicks = e.regime.Suppressed
	e.results.RegimeWouldSuppress = e.regime.WouldSuppress
	e.results.computeMetrics()
}

// buildClock returns the union of all symbol timestamps, ascending.
func (e *Engine) buildClock() []time.Time {
	seen := make(map[int64]time.Time)
	for _, sym := range e.symbols {
		series := e.data[sym]
		for i := 0; i < series.Len(); i++ {
			ts := series.At(i).Ts
			seen[ts.UnixNano()] = ts
		}
	}
	clock := make([]time.Time, 0, len(seen))
	for _, ts := range seen {
		clock = append(clock, ts)
	}
	sort.Slice(clock, func(i, j int) bool { return clock[i].Before(clock[j]) })
	return clock
}
