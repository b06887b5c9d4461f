// Package backtest replays a compiled strategy over historical bars and
// computes the performance report.
package backtest

import (
	"fmt"

	"tradewise-engine/internal/metrics"
	"tradewise-engine/internal/models"
	"tradewise-engine/internal/rules"

	"github.com/shopspring/decimal"
)

// Run 编译策略并在K线序列上执行一次完整回测
func Run(strategy *models.Strategy, series *models.BarSeries, initialCash decimal.Decimal) (*models.Report, error) {
	prog, err := rules.Compile(strategy)
	if err != nil {
		metrics.BacktestsRun.WithLabelValues("config_error").Inc()
		return nil, err
	}
	return RunProgram(prog, series, initialCash)
}

// RunProgram runs an already compiled strategy.
func RunProgram(prog *rules.Program, series *models.BarSeries, initialCash decimal.Decimal) (*models.Report, error) {
	if !initialCash.IsPositive() {
		metrics.BacktestsRun.WithLabelValues("config_error").Inc()
		return nil, &models.ConfigurationError{Component: "backtest", Field: "initial_cash", Reason: "must be positive"}
	}
	if series == nil {
		series = &models.BarSeries{}
	}

	pred, err := prog.Bind(series)
	if err != nil {
		metrics.BacktestsRun.WithLabelValues("config_error").Inc()
		return nil, fmt.Errorf("bind strategy: %w", err)
	}
	record := Simulate(pred, series)

	strat := prog.Strategy()
	report := Calculate(record, series, initialCash)
	report.StrategyName = strat.Name
	report.Symbol = series.Symbol
	report.Warmup = prog.Warmup()
	if series.Len() > 0 {
		report.StartTime = series.Bars[0].Time
		report.EndTime = series.Bars[series.Len()-1].Time
	}

	if report.TotalTrades == 0 && record.Open == nil {
		if !prog.HasEntry() {
			report.Warnings = append(report.Warnings, "strategy has no BUY rules and never enters a position")
		}
		if series.Len() <= prog.Warmup() {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"insufficient data: strategy needs more than %d bars of warm-up, series has %d", prog.Warmup(), series.Len()))
		}
	}
	metrics.BacktestsRun.WithLabelValues("ok").Inc()
	return report, nil
}

// Simulate walks the series once through the FLAT/LONG state machine, starting
// at the first warmed-up index. At most one transition happens per bar; exit
// wins while LONG. A position still open at the last bar is left open.
func Simulate(pred *rules.Predicates, series *models.BarSeries) models.TradeRecord {
	var (
		record models.TradeRecord
		state  = models.Flat
		open   models.Position
	)
	for i := pred.Warmup; i < series.Len(); i++ {
		bar := series.Bars[i]
		switch state {
		case models.Flat:
			if pred.Entry(i) {
				open = models.Position{
					EntryIndex: i,
					ExitIndex:  -1,
					EntryPrice: bar.Close,
					EntryTime:  bar.Time,
				}
				state = models.Long
			}
		case models.Long:
			if pred.Exit(i) {
				open.ExitIndex = i
				open.ExitPrice = bar.Close
				open.ExitTime = bar.Time
				record.Closed = append(record.Closed, open)
				state = models.Flat
			}
		}
	}
	if state == models.Long {
		pos := open
		record.Open = &pos
	}
	return record
}
