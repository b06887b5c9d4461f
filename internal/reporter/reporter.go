package reporter

import (
	"fmt"
	"io"
	"strings"

	"tradewise-engine/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const dateLayout = "2006-01-02"

// GenerateReport 将回测结果以表格形式写出
func GenerateReport(w io.Writer, r *models.Report, dataPath string) {
	fmt.Fprintln(w, SummaryTable(r, dataPath))
	if len(r.Record.Closed) > 0 || r.Record.Open != nil {
		fmt.Fprintln(w, TradesTable(r))
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn)
	}
}

// SummaryTable renders the aggregate metrics.
func SummaryTable(r *models.Report, dataPath string) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("回测结果报告: " + r.StrategyName)
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

	if dataPath != "" {
		t.AppendRow(table.Row{"数据文件", dataPath})
	}
	t.AppendRow(table.Row{"交易对", r.Symbol})
	if r.Bars > 0 {
		t.AppendRow(table.Row{"回测周期", fmt.Sprintf("%s 到 %s", r.StartTime.Format(dateLayout), r.EndTime.Format(dateLayout))})
	}
	t.AppendRow(table.Row{"K线数量", fmt.Sprintf("%d (预热 %d)", r.Bars, r.Warmup)})
	t.AppendSeparator()
	t.AppendRow(table.Row{"初始资金", r.InitialCash.StringFixed(2)})
	t.AppendRow(table.Row{"最终资金", r.FinalEquity.StringFixed(2)})
	t.AppendRow(table.Row{"总利润", r.TotalProfitLoss.StringFixed(2)})
	t.AppendRow(table.Row{"收益率", r.TotalReturnPercent.StringFixed(2) + "%"})
	t.AppendSeparator()
	t.AppendRow(table.Row{"总交易次数", r.TotalTrades})
	t.AppendRow(table.Row{"胜率", r.WinRatePercent.StringFixed(2) + "%"})
	t.AppendRow(table.Row{"最大回撤", r.MaxDrawdownPercent.StringFixed(2) + "%"})
	return t.Render()
}

// TradesTable renders one row per position; an open position is marked as
// unrealized.
func TradesTable(r *models.Report) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Entry", "Entry Price", "Exit", "Exit Price", "Change %"})

	for i, p := range r.Record.Closed {
		change := p.ExitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Shift(2)
		t.AppendRow(table.Row{
			i + 1,
			p.EntryTime.Format(dateLayout),
			p.EntryPrice.String(),
			p.ExitTime.Format(dateLayout),
			p.ExitPrice.String(),
			change.StringFixed(2),
		})
	}
	if p := r.Record.Open; p != nil {
		t.AppendFooter(table.Row{"open", p.EntryTime.Format(dateLayout), p.EntryPrice.String(), "-", "-", "unrealized"})
	}
	return t.Render()
}

// Summary is a one-line digest used in log output.
func Summary(r *models.Report) string {
	parts := []string{
		fmt.Sprintf("strategy=%q", r.StrategyName),
		"symbol=" + r.Symbol,
		fmt.Sprintf("trades=%d", r.TotalTrades),
		"pnl=" + r.TotalProfitLoss.StringFixed(2),
		"return=" + r.TotalReturnPercent.StringFixed(2) + "%",
		"winrate=" + r.WinRatePercent.StringFixed(2) + "%",
		"maxdd=" + r.MaxDrawdownPercent.StringFixed(2) + "%",
	}
	return strings.Join(parts, " ")
}
