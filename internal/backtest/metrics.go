package backtest

import (
	"tradewise-engine/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CashFlow 计算每根K线的组合价值曲线: 空仓时为现金, 持仓时为 现金×(收盘价/入场价)
func CashFlow(record models.TradeRecord, series *models.BarSeries, initialCash decimal.Decimal) []decimal.Decimal {
	n := series.Len()
	curve := make([]decimal.Decimal, n)
	cash := initialCash

	positions := record.Closed
	if record.Open != nil {
		positions = append(append([]models.Position(nil), positions...), *record.Open)
	}

	next := 0
	for i := 0; i < n; i++ {
		curve[i] = cash
		if next >= len(positions) {
			continue
		}
		p := positions[next]
		if i < p.EntryIndex || p.EntryPrice.IsZero() {
			continue
		}
		ratio := series.Close(i).Div(p.EntryPrice)
		curve[i] = cash.Mul(ratio)
		if p.IsClosed() && i == p.ExitIndex {
			cash = cash.Mul(p.ExitPrice.Div(p.EntryPrice))
			curve[i] = cash
			next++
		}
	}
	return curve
}

// MaxDrawdown returns the largest peak-to-trough decline of the curve as a
// fraction in [0, 1].
func MaxDrawdown(curve []decimal.Decimal) decimal.Decimal {
	maxDD := decimal.Zero
	if len(curve) < 2 {
		return maxDD
	}
	peak := curve[0]
	for _, v := range curve {
		if v.GreaterThan(peak) {
			peak = v
		}
		if !peak.IsPositive() {
			continue
		}
		dd := peak.Sub(v).Div(peak)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

// Calculate builds the report figures from a trade record. With no closed
// trades every monetary and percentage field is zero.
func Calculate(record models.TradeRecord, series *models.BarSeries, initialCash decimal.Decimal) *models.Report {
	r := &models.Report{
		TotalTrades:        len(record.Closed),
		TotalProfitLoss:    decimal.Zero,
		TotalReturnPercent: decimal.Zero,
		WinRatePercent:     decimal.Zero,
		MaxDrawdownPercent: decimal.Zero,
		InitialCash:        initialCash,
		FinalEquity:        initialCash,
		Bars:               series.Len(),
		Record:             record,
	}
	if r.TotalTrades == 0 || series.Len() == 0 {
		return r
	}

	curve := CashFlow(record, series, initialCash)
	final := curve[len(curve)-1]
	pnl := final.Sub(initialCash)

	wins := 0
	for _, p := range record.Closed {
		if p.IsWin() {
			wins++
		}
	}

	r.FinalEquity = final.Round(2)
	r.TotalProfitLoss = pnl.Round(2)
	r.TotalReturnPercent = pnl.Div(initialCash).Mul(hundred).Round(2)
	r.WinRatePercent = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(r.TotalTrades))).Mul(hundred).Round(2)
	r.MaxDrawdownPercent = MaxDrawdown(curve).Mul(hundred).Round(2)
	return r
}
