package report

import (
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	rankingsSheet = "Rankings"
	monthlySheet  = "Monthly Returns"
	equitySheet   = "Equity"
	tradesSheet   = "Trades"
)

type excelStyles struct {
	header  int
	percent int
	money   int
	ratio   int
}

func newExcelStyles(fx *excelize.File) (excelStyles, error) {
	var s excelStyles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	s.header, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return s, err
	}
	s.percent, err = fx.NewStyle(&excelize.Style{NumFmt: 10, Border: border})
	if err != nil {
		return s, err
	}
	s.money, err = fx.NewStyle(&excelize.Style{NumFmt: 4, Border: border})
	if err != nil {
		return s, err
	}
	s.ratio, err = fx.NewStyle(&excelize.Style{NumFmt: 2, Border: border})
	return s, err
}

type excelColumn struct {
	name  string
	style int
	width float64
}

// writeSheet writes a header row and data rows, styling cells by column.
func writeSheet(fx *excelize.File, sheet string, styles excelStyles, cols []excelColumn, rows [][]interface{}) error {
	for i, c := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, c.name); err != nil {
			return err
		}
		if err := fx.SetCellStyle(sheet, cell, cell, styles.header); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		width := c.width
		if width == 0 {
			width = 14
		}
		if err := fx.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}
	for r, values := range rows {
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if cols[i].style != 0 {
				if err := fx.SetCellStyle(sheet, cell, cell, cols[i].style); err != nil {
					return err
				}
			}
		}
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// WriteXLSX writes rankings, monthly returns, equity history and trades to
// separate sheets of one workbook.
func WriteXLSX(w io.Writer, b *Bundle) error {
	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), rankingsSheet)
	for _, name := range []string{monthlySheet, equitySheet, tradesSheet} {
		if _, err := fx.NewSheet(name); err != nil {
			return err
		}
	}
	st, err := newExcelStyles(fx)
	if err != nil {
		return err
	}

	var rows [][]interface{}
	for _, r := range b.Rankings {
		m := r.Metrics
		rows = append(rows, []interface{}{
			r.Rank, string(m.StrategyID), r.Value, m.TotalReturn, m.AnnualizedReturn, m.Volatility,
			m.SharpeRatio, m.SortinoRatio, m.MaxDrawdown, m.WinRate, m.TotalTrades, m.FinalEquity,
		})
	}
	err = writeSheet(fx, rankingsSheet, st, []excelColumn{
		{name: "Rank", width: 6},
		{name: "Strategy", width: 24},
		{name: b.Metric, style: st.ratio},
		{name: "Total Return", style: st.percent},
		{name: "Annualized Return", style: st.percent, width: 18},
		{name: "Volatility", style: st.percent},
		{name: "Sharpe", style: st.ratio},
		{name: "Sortino", style: st.ratio},
		{name: "Max Drawdown", style: st.percent},
		{name: "Win Rate", style: st.percent},
		{name: "Trades"},
		{name: "Final Equity", style: st.money, width: 16},
	}, rows)
	if err != nil {
		return err
	}

	rows = nil
	for _, r := range b.Rankings {
		for _, mr := range r.Metrics.GetMonthlyReturns() {
			rows = append(rows, []interface{}{string(r.Metrics.StrategyID), mr.Month.Format("2006-01"), mr.Return})
		}
	}
	err = writeSheet(fx, monthlySheet, st, []excelColumn{
		{name: "Strategy", width: 24},
		{name: "Month"},
		{name: "Return", style: st.percent},
	}, rows)
	if err != nil {
		return err
	}

	rows = nil
	for _, l := range b.Ledgers {
		for _, h := range l.History {
			rows = append(rows, []interface{}{string(l.StrategyID), h.Date.Format("2006-01-02"), h.Cash, h.Equity})
		}
	}
	err = writeSheet(fx, equitySheet, st, []excelColumn{
		{name: "Strategy", width: 24},
		{name: "Date"},
		{name: "Cash", style: st.money, width: 16},
		{name: "Equity", style: st.money, width: 16},
	}, rows)
	if err != nil {
		return err
	}

	rows = nil
	for _, o := range Trades(b.Ledgers) {
		rows = append(rows, []interface{}{
			string(o.StrategyID), o.ID, o.Ticker, string(o.Side), o.Quantity, string(o.State),
			o.FillPrice, o.ExitPrice, o.PNL(), stamp(o.FilledAt), stamp(o.ClosedAt),
		})
	}
	err = writeSheet(fx, tradesSheet, st, []excelColumn{
		{name: "Strategy", width: 24},
		{name: "Order", width: 38},
		{name: "Ticker", width: 8},
		{name: "Side", width: 6},
		{name: "Quantity"},
		{name: "State", width: 16},
		{name: "Fill Price", style: st.money},
		{name: "Exit Price", style: st.money},
		{name: "PnL", style: st.money},
		{name: "Filled At", width: 22},
		{name: "Closed At", width: 22},
	}, rows)
	if err != nil {
		return err
	}

	return fx.Write(w)
}
