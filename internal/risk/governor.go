// Package risk implements the layered circuit breaker that governs
// trading behavior across nested time windows: daily entry blocking,
// weekly and monthly risk reduction, and a terminal all-time drawdown
// halt. Each window is an independent state object composed by the
// Governor; restrictions combine across windows and are cleared only
// by the window's scheduled boundary reset, never by a recovery.
package risk

import (
	"time"

	"github.com/rs/zerolog/log"

	"breakout-bot/internal/cfg"
)

// Tier is the governor's current restriction level.
type Tier string

const (
	TierNone          Tier = "none"
	TierDailyBlock    Tier = "daily_block"
	TierWeeklyHalved  Tier = "weekly_halved"
	TierMonthlyHalved Tier = "monthly_halved"
	TierHalted        Tier = "halted"
)

// Restriction is the combined effect of all active windows.
type Restriction struct {
	BlockEntries bool
	RiskScale    float64 // 1.0 normally, 0.5 under weekly/monthly reduction
	Halted       bool
}

// EventKind tags a governor escalation.
type EventKind string

const (
	EventDailyBlock    EventKind = "daily_loss_limit"
	EventWeeklyReduce  EventKind = "weekly_loss_limit"
	EventMonthlyReduce EventKind = "monthly_loss_limit"
	EventHalt          EventKind = "max_drawdown_halt"
)

// Event is surfaced to the alerting collaborator on tier escalation.
type Event struct {
	Kind  EventKind
	Ts    time.Time
	Loss  float64 // realized+unrealized loss fraction for the window
	Limit float64
}

// window tracks equity change since its start and trips once the loss
// limit is crossed. A tripped window stays tripped until its boundary
// reset regardless of interim recovery.
type window struct {
	kind        EventKind
	limit       float64
	startEquity float64
	tripped     bool
	sameWindow  func(a, b time.Time) bool
}

func (w *window) loss(equity float64) float64 {
	if w.startEquity <= 0 {
		return 0
	}
	return (equity - w.startEquity) / w.startEquity
}

// observe re-evaluates the window and reports whether it tripped on
// this observation.
func (w *window) observe(equity float64) bool {
	if w.tripped {
		return false
	}
	if w.loss(equity) <= -w.limit {
		w.tripped = true
		return true
	}
	return false
}

// resetIfBoundaryCrossed restarts the window when now has crossed its
// boundary relative to prev.
func (w *window) resetIfBoundaryCrossed(prev, now time.Time, equity float64) {
	if w.sameWindow(prev, now) {
		return
	}
	w.startEquity = equity
	w.tripped = false
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameISOWeek(a, b time.Time) bool {
	ay, aw := a.UTC().ISOWeek()
	by, bw := b.UTC().ISOWeek()
	return ay == by && aw == bw
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// Governor composes the day/week/month windows with the all-time
// drawdown ceiling.
type Governor struct {
	day, week, month *window

	equity     float64
	peakEquity float64
	maxDD      float64
	halted     bool

	now      time.Time
	notifier func(Event)
}

// NewGovernor starts all windows at the initial equity.
func NewGovernor(rc cfg.RiskSettings, start time.Time) *Governor {
	eq := rc.InitialCapital
	return &Governor{
		day:        &window{kind: EventDailyBlock, limit: rc.DailyLossLimit, startEquity: eq, sameWindow: sameUTCDay},
		week:       &window{kind: EventWeeklyReduce, limit: rc.WeeklyLossLimit, startEquity: eq, sameWindow: sameISOWeek},
		month:      &window{kind: EventMonthlyReduce, limit: rc.MonthlyLossLimit, startEquity: eq, sameWindow: sameMonth},
		equity:     eq,
		peakEquity: eq,
		maxDD:      rc.MaxDrawdown,
		now:        start,
	}
}

// SetNotifier registers the escalation sink (alerting collaborator).
// Delivery is the sink's problem; the governor never blocks on it.
func (g *Governor) SetNotifier(fn func(Event)) { g.notifier = fn }

// Advance moves the governor clock. Window resets happen exactly at
// their boundary crossing and nowhere else. The halt state is never
// cleared by a boundary.
func (g *Governor) Advance(now time.Time) {
	if !now.After(g.now) {
		return
	}
	g.day.resetIfBoundaryCrossed(g.now, now, g.equity)
	g.week.resetIfBoundaryCrossed(g.now, now, g.equity)
	g.month.resetIfBoundaryCrossed(g.now, now, g.equity)
	g.now = now
}

// Observe records the current realized-plus-unrealized equity. Called
// exactly once per closed trade and once per mark-to-market step.
func (g *Governor) Observe(equity float64) {
	g.equity = equity
	if equity > g.peakEquity {
		g.peakEquity = equity
	}

	for _, w := range []*window{g.day, g.week, g.month} {
		if w.observe(equity) {
			g.emit(Event{Kind: w.kind, Ts: g.now, Loss: w.loss(equity), Limit: w.limit})
		}
	}

	if !g.halted && g.peakEquity > 0 {
		dd := (g.equity - g.peakEquity) / g.peakEquity
		if dd <= -g.maxDD {
			g.halted = true
			g.emit(Event{Kind: EventHalt, Ts: g.now, Loss: dd, Limit: g.maxDD})
		}
	}
}

// Restriction combines all active windows. Restrictions are
// cumulative: a monthly size reduction survives a daily block
// clearing, and the halt overrides everything.
func (g *Governor) Restriction() Restriction {
	r := Restriction{RiskScale: 1.0}
	if g.halted {
		return Restriction{BlockEntries: true, RiskScale: 0, Halted: true}
	}
	if g.day.tripped {
		r.BlockEntries = true
	}
	if g.week.tripped || g.month.tripped {
		r.RiskScale = 0.5
	}
	return r
}

// Tier reports the most severe active restriction.
func (g *Governor) Tier() Tier {
	switch {
	case g.halted:
		return TierHalted
	case g.month.tripped:
		return TierMonthlyHalved
	case g.week.tripped:
		return TierWeeklyHalved
	case g.day.tripped:
		return TierDailyBlock
	default:
		return TierNone
	}
}

// Halted reports the terminal drawdown state.
func (g *Governor) Halted() bool { return g.halted }

// Resume clears the halt. This is the only way out of the terminal
// state; it models an explicit external operator action, not a
// scheduled reset.
func (g *Governor) Resume() {
	if !g.halted {
		return
	}
	g.halted = false
	g.peakEquity = g.equity
	log.Warn().Float64("equity", g.equity).Msg("governor halt cleared by external resume")
}

// Equity returns the last observed equity.
func (g *Governor) Equity() float64 { return g.equity }

// PeakEquity returns the all-time equity high-water mark.
func (g *Governor) PeakEquity() float64 { return g.peakEquity }

func (g *Governor) emit(ev Event) {
	log.Warn().
		Str("event", string(ev.Kind)).
		Time("ts", ev.Ts).
		Float64("loss", ev.Loss).
		Float64("limit", ev.Limit).
		Msg("risk limit crossed")
	if g.notifier != nil {
		g.notifier(ev)
	}
}
