package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

var csvHeaders = []string{
	"ID", "Timestamp", "Action", "Ticker", "Shares", "Price", "Value",
	"Signal_Score", "Position_Type", "Profit_$", "Profit_%", "Hold_Days", "Reason",
}

// WriteTradesCSV writes the trade log followed by a summary row. A path
// ending in .xlsx is written as a workbook instead.
func WriteTradesCSV(path string, trades []portfolio.TradeRecord) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return WriteTradesXLSX(path, trades)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeaders); err != nil {
		return err
	}

	var sells, wins int
	for _, t := range trades {
		row := []string{
			t.ID,
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Action,
			t.Ticker,
			strconv.FormatInt(t.Shares, 10),
			t.Price.StringFixed(2),
			t.Value().StringFixed(2),
			"", "", "", "", "",
			t.Reason,
		}
		if t.Action == portfolio.ActionBuy {
			row[7] = strconv.FormatFloat(t.SignalScore, 'f', 1, 64)
			row[8] = string(t.PositionType)
		}
		if t.Profit != nil {
			sells++
			if t.Profit.IsPositive() {
				wins++
			}
			row[9] = t.Profit.StringFixed(2)
			row[11] = strconv.Itoa(t.HoldDays)
		}
		if t.ProfitPct != nil {
			row[10] = t.ProfitPct.StringFixed(2)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	summaryRow := make([]string, len(csvHeaders))
	summaryRow[len(summaryRow)-1] = fmt.Sprintf("SUMMARY: net_pnl=$%s; total_trades=%d; closed=%d; wins=%d",
		NetPnL(trades).StringFixed(2), len(trades), sells, wins)
	if err := w.Write(summaryRow); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}
