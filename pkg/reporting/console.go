package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

// ConsoleReporter renders ledger views as go-pretty tables
type ConsoleReporter struct {
	style table.Style
}

// NewConsoleReporter creates a console reporter using the rounded style
func NewConsoleReporter() *ConsoleReporter {
	return &ConsoleReporter{style: table.StyleRounded}
}

// Summary is the end-of-run view of a session
type Summary struct {
	Iterations int
	Snapshot   *portfolio.Snapshot
	Trades     []portfolio.TradeRecord
}

// NetPnL sums the profit of every SELL record
func NetPnL(trades []portfolio.TradeRecord) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		if t.Action == portfolio.ActionSell && t.Profit != nil {
			total = total.Add(*t.Profit)
		}
	}
	return total
}

// RenderStatus prints the portfolio snapshot and its open positions
func (r *ConsoleReporter) RenderStatus(w io.Writer, s *portfolio.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("PORTFOLIO STATUS")
	t.SetStyle(r.style)

	t.AppendRows([]table.Row{
		{"💰 Total Value", money(s.TotalValue)},
		{"💵 Cash", money(s.Cash)},
		{"📦 Positions Value", money(s.PositionsValue)},
		{"📊 Positions", fmt.Sprintf("%d / %d", s.NumPositions, s.MaxPositions)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"🔄 Cash Utilization", percent(s.CashUtilization)},
		{"🚨 Risky Exposure", fmt.Sprintf("%s (max %s)", percent(s.RiskyExposure), percent(s.MaxRiskyPct))},
		{"📈 Realized P/L", money(s.RealizedPnL)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 30, Align: text.AlignRight},
	})
	t.Render()

	if len(s.Positions) == 0 {
		return
	}

	p := table.NewWriter()
	p.SetOutputMirror(w)
	p.SetTitle("OPEN POSITIONS")
	p.SetStyle(r.style)
	p.AppendHeader(table.Row{"Ticker", "Type", "Shares", "Entry", "Value", "Score", "Opened"})
	for _, pos := range s.Positions {
		p.AppendRow(table.Row{
			pos.Ticker,
			string(pos.PositionType),
			pos.Shares,
			money(pos.EntryPrice),
			money(pos.EntryValue()),
			fmt.Sprintf("%.1f", pos.SignalScore),
			pos.EntryDate.Format("2006-01-02 15:04"),
		})
	}
	p.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	p.Render()
}

// RenderTrades prints the trade log, one row per record
func (r *ConsoleReporter) RenderTrades(w io.Writer, trades []portfolio.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("TRADES")
	t.SetStyle(r.style)
	t.AppendHeader(table.Row{"Time", "Action", "Ticker", "Shares", "Price", "Value", "P/L", "P/L %", "Reason"})

	for _, tr := range trades {
		profit, profitPct := "", ""
		if tr.Profit != nil {
			profit = money(*tr.Profit)
		}
		if tr.ProfitPct != nil {
			profitPct = percent(*tr.ProfitPct)
		}
		t.AppendRow(table.Row{
			tr.Timestamp.Format("2006-01-02 15:04:05"),
			tr.Action,
			tr.Ticker,
			tr.Shares,
			money(tr.Price),
			money(tr.Value()),
			profit,
			profitPct,
			tr.Reason,
		})
	}

	t.AppendFooter(table.Row{"", "", "", "", "", "Net P/L", money(NetPnL(trades)), "", ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.Render()
}

// RenderSummary prints the end-of-run trading summary
func (r *ConsoleReporter) RenderSummary(w io.Writer, s Summary) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", 50))
	fmt.Fprintln(w, "📊 TRADING SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(r.style)
	t.AppendRows([]table.Row{
		{"🔄 Iterations", s.Iterations},
		{"💰 Portfolio Value", money(s.Snapshot.TotalValue)},
		{"💵 Cash", money(s.Snapshot.Cash)},
		{"📊 Positions", s.Snapshot.NumPositions},
		{"📝 Total Trades", len(s.Trades)},
		{"📈 Net P/L", money(NetPnL(s.Trades))},
		{"🔄 Cash Utilization", percentFixed(s.Snapshot.CashUtilization, 1)},
		{"🚨 Risky Exposure", percentFixed(s.Snapshot.RiskyExposure, 1)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 20, WidthMax: 20, Align: text.AlignLeft},
		{Number: 2, WidthMin: 15, WidthMax: 25, Align: text.AlignRight},
	})
	t.Render()
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func percent(d decimal.Decimal) string {
	return percentFixed(d, 2)
}

func percentFixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places) + "%"
}
