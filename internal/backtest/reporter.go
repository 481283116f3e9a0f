package backtest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Reporter writes the run's outputs: a human-readable summary, a CSV
// trade log, a CSV equity curve, and a full JSON dump.
type Reporter struct {
	results    *Results
	outputPath string
}

// NewReporter creates a reporter writing under outputPath.
func NewReporter(results *Results, outputPath string) *Reporter {
	return &Reporter{
		results:    results,
		outputPath: outputPath,
	}
}

// GenerateReport writes all report formats.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generateTradeLog(); err != nil {
		return err
	}
	if err := r.generateEquityCurve(); err != nil {
		return err
	}
	if err := r.generateJSONReport(); err != nil {
		return err
	}
	return nil
}

// generateSummary writes the human-readable summary.
func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "backtest_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	res := r.results

	fmt.Fprintf(file, "BACKTEST RESULTS SUMMARY\n")
	fmt.Fprintf(file, "========================\n\n")

	if len(res.EquityCurve) > 0 {
		first := res.EquityCurve[0].Ts
		last := res.EquityCurve[len(res.EquityCurve)-1].Ts
		fmt.Fprintf(file, "Time Period: %s to %s\n",
			first.Format("2006-01-02 15:04:05"),
			last.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(file, "Duration: %s\n\n", last.Sub(first))
	}

	fmt.Fprintf(file, "PERFORMANCE METRICS\n")
	fmt.Fprintf(file, "-------------------\n")
	fmt.Fprintf(file, "Initial Balance: $%.2f\n", res.InitialBalance)
	fmt.Fprintf(file, "Final Balance: $%.2f\n", res.FinalBalance)
	fmt.Fprintf(file, "Total Return: %.2f%%\n", res.TotalReturnPct)
	fmt.Fprintf(file, "Total Commission: $%.2f\n\n", res.TotalCommission)

	fmt.Fprintf(file, "TRADING STATISTICS\n")
	fmt.Fprintf(file, "------------------\n")
	fmt.Fprintf(file, "Total Trades: %d\n", len(res.Trades))
	fmt.Fprintf(file, "Win Rate: %.2f%%\n", res.WinRate)
	fmt.Fprintf(file, "Profit Factor: %.2f\n", res.ProfitFactor)
	fmt.Fprintf(file, "Avg Win: $%.2f\n", res.AvgWin)
	fmt.Fprintf(file, "Avg Loss: $%.2f\n", res.AvgLoss)
	for _, reason := range sortedKeys(res.ExitReasons) {
		fmt.Fprintf(file, "Exits (%s): %d\n", reason, res.ExitReasons[reason])
	}
	fmt.Fprintf(file, "\nRISK METRICS\n")
	fmt.Fprintf(file, "------------\n")
	fmt.Fprintf(file, "Max Drawdown: %.2f%%\n", res.MaxDrawdownPct)
	fmt.Fprintf(file, "Sharpe Ratio: %.2f\n", res.SharpeRatio)
	fmt.Fprintf(file, "Risk Events: %d\n", len(res.GovernorEvents))
	for _, ev := range res.GovernorEvents {
		fmt.Fprintf(file, "  %s %s loss=%.2f limit=%.2f%%\n",
			ev.Ts.Format("2006-01-02 15:04"), ev.Kind, ev.Loss, ev.Limit*100)
	}

	fmt.Fprintf(file, "\nSKIPPED ENTRIES\n")
	fmt.Fprintf(file, "---------------\n")
	for _, reason := range sortedKeys(res.SkipCounts) {
		fmt.Fprintf(file, "%s: %d\n", reason, res.SkipCounts[reason])
	}
	if res.RegimeSuppressedTicks > 0 || res.RegimeWouldSuppress > 0 {
		fmt.Fprintf(file, "\nRegime suppressed ticks: %d\n", res.RegimeSuppressedTicks)
		fmt.Fprintf(file, "Regime would-suppress ticks (filter disabled): %d\n", res.RegimeWouldSuppress)
	}

	symbolStats := r.calculateSymbolStats()
	if len(symbolStats) > 0 {
		fmt.Fprintf(file, "\nPERFORMANCE BY SYMBOL\n")
		fmt.Fprintf(file, "---------------------\n")
		symbols := make([]string, 0, len(symbolStats))
		for s := range symbolStats {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			stats := symbolStats[symbol]
			fmt.Fprintf(file, "%s: %d trades, %.2f%% win rate, $%.2f PnL\n",
				symbol, stats.Count, stats.WinRate, stats.PnL)
		}
	}

	log.Info().Str("file", summaryPath).Msg("summary report generated")
	return nil
}

// generateTradeLog writes the CSV trade log.
func (r *Reporter) generateTradeLog() error {
	csvPath := filepath.Join(r.outputPath, "trade_log.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create trade log: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"symbol", "entry_time", "exit_time", "entry_price", "exit_price",
		"quantity", "pnl", "pnl_percent", "commission", "exit_reason", "peak_price", "opened_tier"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, t := range r.results.Trades {
		row := []string{
			t.Symbol,
			t.EntryTime.Format("2006-01-02 15:04:05"),
			t.ExitTime.Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(t.EntryPrice, 'f', 8, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', 8, 64),
			strconv.FormatFloat(t.Quantity, 'f', 8, 64),
			strconv.FormatFloat(t.PnL, 'f', 2, 64),
			strconv.FormatFloat(t.PnLPercent, 'f', 2, 64),
			strconv.FormatFloat(t.Commission, 'f', 4, 64),
			string(t.ExitReason),
			strconv.FormatFloat(t.PeakPrice, 'f', 8, 64),
			t.OpenedTier,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	log.Info().Str("file", csvPath).Int("trades", len(r.results.Trades)).Msg("trade log generated")
	return nil
}

// generateEquityCurve writes one equity point per tick as CSV.
func (r *Reporter) generateEquityCurve() error {
	csvPath := filepath.Join(r.outputPath, "equity_curve.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create equity curve: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"ts", "equity", "cash", "positions_value", "num_positions"}); err != nil {
		return err
	}
	for _, p := range r.results.EquityCurve {
		row := []string{
			p.Ts.Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(p.Equity, 'f', 2, 64),
			strconv.FormatFloat(p.Cash, 'f', 2, 64),
			strconv.FormatFloat(p.PositionsValue, 'f', 2, 64),
			strconv.Itoa(p.NumPositions),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	log.Info().Str("file", csvPath).Msg("equity curve generated")
	return nil
}

// generateJSONReport dumps the full results for machine consumption.
func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "backtest_results.json")
	file, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to create JSON report: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r.results); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// PrintSummary writes the short run summary to stdout.
func (r *Reporter) PrintSummary() {
	res := r.results
	fmt.Println("=== Backtest Results ===")
	fmt.Printf("Initial Balance: $%.2f\n", res.InitialBalance)
	fmt.Printf("Final Balance:   $%.2f\n", res.FinalBalance)
	fmt.Printf("Total Return:    %.2f%%\n", res.TotalReturnPct)
	fmt.Printf("Trades:          %d (win rate %.1f%%)\n", len(res.Trades), res.WinRate)
	fmt.Printf("Profit Factor:   %.2f\n", res.ProfitFactor)
	fmt.Printf("Max Drawdown:    %.2f%%\n", res.MaxDrawdownPct)
	fmt.Printf("Sharpe Ratio:    %.2f\n", res.SharpeRatio)
	for _, reason := range sortedKeys(res.ExitReasons) {
		fmt.Printf("  exits %-14s %d\n", reason, res.ExitReasons[reason])
	}
	for _, reason := range sortedKeys(res.SkipCounts) {
		fmt.Printf("  skips %-22s %d\n", reason, res.SkipCounts[reason])
	}
	fmt.Println("========================")
}

type symbolStats struct {
	Count   int
	Wins    int
	WinRate float64
	PnL     float64
}

func (r *Reporter) calculateSymbolStats() map[string]*symbolStats {
	stats := make(map[string]*symbolStats)
	for _, t := range r.results.Trades {
		s, ok := stats[t.Symbol]
		if !ok {
			s = &symbolStats{}
			stats[t.Symbol] = s
		}
		s.Count++
		s.PnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
		}
	}
	for _, s := range stats {
		s.WinRate = float64(s.Wins) / float64(s.Count) * 100
	}
	return stats
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
