package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"breakout-bot/internal/backtest"
	"breakout-bot/internal/cfg"
	"breakout-bot/internal/market"
	"breakout-bot/internal/storage"
)

func main() {
	var (
		dataPath   = flag.String("data", "", "Path to data directory (CSV files or candle store)")
		outputPath = flag.String("output", "backtest_results", "Output directory for results")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		symbols    = flag.String("symbols", "", "Comma-separated symbols to test (overrides config)")
		startDate  = flag.String("start", "", "Start date (YYYY-MM-DD), store loads only")
		endDate    = flag.String("end", "", "End date (YYYY-MM-DD), store loads only")
		dataFormat = flag.String("format", "csv", "Data format: csv, store")
		sweepRisk  = flag.String("sweep-risk", "", "Comma-separated riskPerTrade values for a parameter sweep")
		sweepTrail = flag.String("sweep-trail", "", "Comma-separated trailPct values for a parameter sweep")
		workers    = flag.Int("workers", 0, "Sweep worker count (0 = GOMAXPROCS)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *symbols != "" {
		config.Symbols = parseList(*symbols)
	}
	if *dataPath == "" {
		*dataPath = config.DataPath
	}

	startTime, endTime := parseDates(*startDate, *endDate)

	data, regimeData := loadData(config, *dataFormat, *dataPath, startTime, endTime)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *sweepRisk != "" || *sweepTrail != "" {
		runSweep(ctx, config, data, regimeData, *sweepRisk, *sweepTrail, *workers, *outputPath)
		return
	}

	engine := backtest.NewEngine(config, data, regimeData)
	results, err := engine.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	reporter := backtest.NewReporter(results, *outputPath)
	if err := reporter.GenerateReport(); err != nil {
		log.Error().Err(err).Msg("failed to generate reports")
	}
	reporter.PrintSummary()

	log.Info().Str("output", *outputPath).Msg("backtest completed")
}

func loadData(config cfg.Settings, format, dataPath string, start, end time.Time) (map[string]*market.Series, *market.Series) {
	loader := backtest.NewDataLoader(config.Interval)

	loadSymbols := config.Symbols
	needRegime := config.Regime.Enabled || config.Regime.ComputeWhenDisabled
	if needRegime && !contains(loadSymbols, config.Regime.Symbol) {
		loadSymbols = append(append([]string{}, loadSymbols...), config.Regime.Symbol)
	}

	switch format {
	case "csv":
		if err := loader.LoadFromCSVDir(dataPath, loadSymbols); err != nil {
			log.Fatal().Err(err).Msg("failed to load CSV data")
		}
	case "store":
		store, err := storage.New(dataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open candle store")
		}
		defer store.Close()
		if err := loader.LoadFromStore(store, loadSymbols, start, end); err != nil {
			log.Fatal().Err(err).Msg("failed to load store data")
		}
	default:
		log.Fatal().Str("format", format).Msg("unknown data format")
	}

	var regimeData *market.Series
	if needRegime {
		regimeData = loader.Get(config.Regime.Symbol)
	}

	data := make(map[string]*market.Series, len(config.Symbols))
	for _, s := range config.Symbols {
		if series := loader.Get(s); series != nil {
			data[s] = series
		}
	}
	if len(data) == 0 {
		log.Fatal().Msg("no usable candle data loaded")
	}
	return data, regimeData
}

func runSweep(ctx context.Context, base cfg.Settings, data map[string]*market.Series, regimeData *market.Series, riskList, trailList string, workers int, outputPath string) {
	risks := parseFloats(riskList, base.Risk.RiskPerTrade)
	trails := parseFloats(trailList, base.Risk.TrailPct)

	var variants []backtest.Variant
	for _, r := range risks {
		for _, t := range trails {
			v := base
			v.Risk.RiskPerTrade = r
			v.Risk.TrailPct = t
			variants = append(variants, backtest.Variant{
				Name:   fmt.Sprintf("risk%.3f_trail%.3f", r, t),
				Config: v,
			})
		}
	}

	results := backtest.Sweep(ctx, variants, data, regimeData, workers)

	fmt.Println("=== Sweep Results ===")
	fmt.Printf("%-24s %10s %8s %8s %8s\n", "variant", "return%", "trades", "win%", "maxDD%")
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("%-24s aborted: %v\n", r.Variant.Name, r.Err)
			continue
		}
		fmt.Printf("%-24s %10.2f %8d %8.1f %8.2f\n",
			r.Variant.Name,
			r.Results.TotalReturnPct,
			len(r.Results.Trades),
			r.Results.WinRate,
			r.Results.MaxDrawdownPct)

		reporter := backtest.NewReporter(r.Results, outputPath+"/"+r.Variant.Name)
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Str("variant", r.Variant.Name).Msg("failed to generate reports")
		}
	}
}

func parseDates(startDate, endDate string) (time.Time, time.Time) {
	startTime := time.Now().AddDate(-1, 0, 0)
	endTime := time.Now()

	var err error
	if startDate != "" {
		if startTime, err = time.Parse("2006-01-02", startDate); err != nil {
			log.Fatal().Err(err).Msg("invalid start date format")
		}
	}
	if endDate != "" {
		if endTime, err = time.Parse("2006-01-02", endDate); err != nil {
			log.Fatal().Err(err).Msg("invalid end date format")
		}
	}
	return startTime, endTime
}

func parseList(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}

func parseFloats(s string, def float64) []float64 {
	if s == "" {
		return []float64{def}
	}
	var result []float64
	for _, v := range parseList(s) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Fatal().Str("value", v).Msg("invalid sweep value")
		}
		result = append(result, f)
	}
	return result
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
