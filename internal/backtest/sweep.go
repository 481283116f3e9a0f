package backtest

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"breakout-bot/internal/cfg"
	"breakout-bot/internal/market"
)

// Variant is one parameter set in a sweep.
type Variant struct {
	Name   string
	Config cfg.Settings
}

// SweepResult pairs a variant with its completed run. Err is non-nil
// only when the run was cancelled.
type SweepResult struct {
	Variant Variant
	Results *Results
	Err     error
}

// Sweep runs each variant on its own engine over the same candle
// data. The series maps are shared read-only; every engine carries
// its own indicators, positions, and governor, so runs cannot
// interfere and each produces the same output it would produce alone.
func Sweep(ctx context.Context, variants []Variant, data map[string]*market.Series, regimeData *market.Series, workers int) []SweepResult {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(variants) {
		workers = len(variants)
	}

	log.Info().
		Int("variants", len(variants)).
		Int("workers", workers).
		Msg("starting parameter sweep")

	jobs := make(chan int)
	results := make([]SweepResult, len(variants))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				v := variants[i]
				engine := NewEngine(v.Config, data, regimeData)
				res, err := engine.Run(ctx)
				results[i] = SweepResult{Variant: v, Results: res, Err: err}
				if err != nil {
					log.Warn().Err(err).Str("variant", v.Name).Msg("sweep run aborted")
				} else {
					log.Info().
						Str("variant", v.Name).
						Float64("return_pct", res.TotalReturnPct).
						Int("trades", len(res.Trades)).
						Msg("sweep run finished")
				}
			}
		}()
	}

	for i := range variants {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(variants); j++ {
				results[j] = SweepResult{Variant: variants[j], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}
