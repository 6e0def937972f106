package reporting

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ducminhle1904/trading-risk-engine/internal/portfolio"
)

const (
	tradesSheet  = "Trades"
	summarySheet = "Summary"
)

var tradeHeaders = []string{
	"ID", "Timestamp", "Action", "Ticker", "Shares", "Price", "Value",
	"Signal Score", "Position Type", "Profit", "Profit %", "Hold Days", "Reason",
}

// ExcelStyles holds the workbook style IDs
type ExcelStyles struct {
	HeaderStyle        int
	CurrencyStyle      int
	PercentStyle       int
	BaseStyle          int
	RedCurrencyStyle   int
	GreenCurrencyStyle int
	SummaryStyle       int
}

// ExcelReporter writes the trade log as an XLSX workbook
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteTradesXLSX writes a Trades sheet and a per-ticker Summary sheet
func (r *ExcelReporter) WriteTradesXLSX(path string, trades []portfolio.TradeRecord) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	if err := fx.SetSheetName(fx.GetSheetName(0), tradesSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return err
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeTradesSheet(fx, trades, styles); err != nil {
		return err
	}
	if err := r.writeSummarySheet(fx, trades, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	thinBorder := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.CurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	// values are already in percent, so a plain two-decimal format
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    2,
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "left"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.RedCurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.GreenCurrencyStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt:    7,
		Font:      &excelize.Font{Color: "008000"},
		Alignment: &excelize.Alignment{Horizontal: "right"},
		Border:    thinBorder,
	})
	if err != nil {
		return styles, err
	}

	styles.SummaryStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"F0F0F0"}, Pattern: 1},
		Border: thinBorder,
	})
	return styles, err
}

func (r *ExcelReporter) writeHeader(fx *excelize.File, sheet string, headers []string, styles ExcelStyles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle); err != nil {
			return err
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func (r *ExcelReporter) writeTradesSheet(fx *excelize.File, trades []portfolio.TradeRecord, styles ExcelStyles) error {
	const sheet = tradesSheet

	widths := []float64{38, 20, 8, 10, 8, 12, 12, 12, 14, 12, 10, 10, 20}
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := fx.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}
	if err := r.writeHeader(fx, sheet, tradeHeaders, styles); err != nil {
		return err
	}

	for i, t := range trades {
		row := i + 2
		values := []interface{}{
			t.ID,
			t.Timestamp.Format("2006-01-02 15:04:05"),
			t.Action,
			t.Ticker,
			t.Shares,
			t.Price.InexactFloat64(),
			t.Value().InexactFloat64(),
			nil, nil, nil, nil, nil,
			t.Reason,
		}
		if t.Action == portfolio.ActionBuy {
			values[7] = t.SignalScore
			values[8] = string(t.PositionType)
		}
		if t.Profit != nil {
			values[9] = t.Profit.InexactFloat64()
			values[11] = t.HoldDays
		}
		if t.ProfitPct != nil {
			values[10] = t.ProfitPct.InexactFloat64()
		}

		for col, v := range values {
			if v == nil {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if err := fx.SetCellStyle(sheet, cell, cell, r.tradeCellStyle(col, t, styles)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *ExcelReporter) tradeCellStyle(col int, t portfolio.TradeRecord, styles ExcelStyles) int {
	switch col {
	case 5, 6:
		return styles.CurrencyStyle
	case 9:
		if t.Profit != nil && t.Profit.IsNegative() {
			return styles.RedCurrencyStyle
		}
		return styles.GreenCurrencyStyle
	case 10:
		return styles.PercentStyle
	default:
		return styles.BaseStyle
	}
}

// tickerSummary aggregates closed trades for one ticker
type tickerSummary struct {
	ticker string
	buys   int
	sells  int
	wins   int
	profit float64
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, trades []portfolio.TradeRecord, styles ExcelStyles) error {
	const sheet = summarySheet

	headers := []string{"Ticker", "Buys", "Sells", "Wins", "Net Profit"}
	for i, w := range []float64{12, 8, 8, 8, 14} {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := fx.SetColWidth(sheet, col, col, w); err != nil {
			return err
		}
	}
	if err := r.writeHeader(fx, sheet, headers, styles); err != nil {
		return err
	}

	var order []string
	byTicker := make(map[string]*tickerSummary)
	for _, t := range trades {
		s, ok := byTicker[t.Ticker]
		if !ok {
			s = &tickerSummary{ticker: t.Ticker}
			byTicker[t.Ticker] = s
			order = append(order, t.Ticker)
		}
		switch t.Action {
		case portfolio.ActionBuy:
			s.buys++
		case portfolio.ActionSell:
			s.sells++
			if t.Profit != nil {
				s.profit += t.Profit.InexactFloat64()
				if t.Profit.IsPositive() {
					s.wins++
				}
			}
		}
	}

	row := 2
	for _, ticker := range order {
		s := byTicker[ticker]
		profitStyle := styles.GreenCurrencyStyle
		if s.profit < 0 {
			profitStyle = styles.RedCurrencyStyle
		}
		if err := r.writeRow(fx, sheet, row, []interface{}{s.ticker, s.buys, s.sells, s.wins, s.profit},
			[]int{styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, styles.BaseStyle, profitStyle}); err != nil {
			return err
		}
		row++
	}

	total := NetPnL(trades).InexactFloat64()
	return r.writeRow(fx, sheet, row, []interface{}{"TOTAL", "", "", "", total},
		[]int{styles.SummaryStyle, styles.SummaryStyle, styles.SummaryStyle, styles.SummaryStyle, styles.SummaryStyle})
}

func (r *ExcelReporter) writeRow(fx *excelize.File, sheet string, row int, values []interface{}, rowStyles []int) error {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, rowStyles[i]); err != nil {
			return err
		}
	}
	return nil
}

// WriteTradesXLSX writes trades with a default Excel reporter
func WriteTradesXLSX(path string, trades []portfolio.TradeRecord) error {
	return NewExcelReporter().WriteTradesXLSX(path, trades)
}
