// Package testutil holds bar series and strategy fixtures shared by tests.
package testutil

import (
	"time"

	"tradewise-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Epoch is the timestamp of bar 0 in generated series.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Series builds a daily bar series from close prices.
func Series(symbol string, closes ...float64) *models.BarSeries {
	bars := make([]models.Bar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		bars[i] = models.Bar{
			Time:   Epoch.AddDate(0, 0, i),
			Open:   d,
			High:   d,
			Low:    d,
			Close:  d,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return &models.BarSeries{Symbol: symbol, Bars: bars}
}

// RiseThenDropCloses is a 60-bar path: flat at 100 for 20 bars, a linear rise
// to 140, flat at 140, then a gap down to 120 on bar 55.
func RiseThenDropCloses() []float64 {
	out := make([]float64, 60)
	for i := range out {
		switch {
		case i < 20:
			out[i] = 100
		case i < 40:
			out[i] = float64(100 + 2*(i-19))
		case i < 55:
			out[i] = 140
		default:
			out[i] = 120
		}
	}
	return out
}

// Period is a shorthand parameter map.
func Period(n int) map[string]any {
	return map[string]any{"period": n}
}

// ValueCondition compares an indicator against a literal.
func ValueCondition(name string, params map[string]any, op models.Operator, value string) models.Condition {
	return models.Condition{
		IndicatorA:       name,
		IndicatorAParams: params,
		Operator:         op,
		IndicatorBType:   models.OperandValue,
		IndicatorBValue:  value,
	}
}

// IndicatorCondition compares two indicators.
func IndicatorCondition(a string, aParams map[string]any, op models.Operator, b string, bParams map[string]any) models.Condition {
	return models.Condition{
		IndicatorA:       a,
		IndicatorAParams: aParams,
		Operator:         op,
		IndicatorBType:   models.OperandIndicator,
		IndicatorBValue:  b,
		IndicatorBParams: bParams,
	}
}

// Rule builds a rule with full allocation.
func Rule(action models.Action, conds ...models.Condition) models.Rule {
	return models.Rule{Action: action, AllocationPercent: 100, Conditions: conds}
}

// Strategy builds a named strategy owned by "user-1".
func Strategy(name string, rules ...models.Rule) *models.Strategy {
	return &models.Strategy{
		ID:        "strat-" + name,
		OwnerID:   "user-1",
		Name:      name,
		CreatedAt: Epoch,
		Rules:     rules,
	}
}

// GoldenCrossStrategy buys on SMA(5) crossing above SMA(20) and sells when the
// close drops more than 10% in one bar.
func GoldenCrossStrategy() *models.Strategy {
	return Strategy("golden-cross",
		Rule(models.Buy, IndicatorCondition("SMA", Period(5), models.CrossesAbove, "SMA", Period(20))),
		Rule(models.Sell, ValueCondition("ROC", Period(1), models.LessThan, "-10")),
	)
}
