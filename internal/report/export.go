package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
	"github.com/winniepooh001/GPTComparison/internal/ports"
	"github.com/winniepooh001/GPTComparison/internal/strategy/analytics"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Row is one ranked strategy in an export.
type Row struct {
	Rank    int                           `json:"rank"`
	Value   float64                       `json:"value"`
	Metrics *analytics.PerformanceMetrics `json:"metrics"`
}

// Bundle is everything an export writes.
type Bundle struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Metric      string               `json:"metric"`
	Rankings    []Row                `json:"rankings"`
	Ledgers     []domain.LedgerState `json:"ledgers"`
}

// NewBundle ranks the ledgers that completed at least one successful cycle.
// Every ledger is kept for the equity and trade exports.
func NewBundle(states []domain.LedgerState, riskFreeRate float64, metric string, now time.Time) (*Bundle, error) {
	ranked, err := analytics.Compare(states, riskFreeRate, metric)
	if err != nil {
		return nil, fmt.Errorf("rank ledgers: %w", err)
	}
	b := &Bundle{GeneratedAt: now.UTC(), Metric: metric, Ledgers: states, Rankings: make([]Row, 0, len(ranked))}
	for _, r := range ranked {
		b.Rankings = append(b.Rankings, Row{Rank: r.Rank, Value: r.Value, Metrics: r.Metrics})
	}
	return b, nil
}

var metricsHeader = []string{
	"rank", "strategy", "value", "total_return", "annualized_return", "volatility",
	"sharpe", "sortino", "calmar", "max_drawdown", "var_95", "cvar_95",
	"trades", "win_rate", "profit_factor", "expectancy", "final_equity",
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }

// WriteMetricsCSV writes one line per ranked strategy.
func WriteMetricsCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(metricsHeader); err != nil {
		return err
	}
	for _, r := range rows {
		m := r.Metrics
		rec := []string{
			strconv.Itoa(r.Rank), string(m.StrategyID), ff(r.Value),
			ff(m.TotalReturn), ff(m.AnnualizedReturn), ff(m.Volatility),
			ff(m.SharpeRatio), ff(m.SortinoRatio), ff(m.CalmarRatio), ff(m.MaxDrawdown),
			ff(m.VaR95), ff(m.CVaR95),
			strconv.Itoa(m.TotalTrades), ff(m.WinRate), ff(m.ProfitFactor), ff(m.Expectancy), ff(m.FinalEquity),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV writes every ledger's daily equity history.
func WriteEquityCSV(w io.Writer, states []domain.LedgerState) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"strategy", "date", "cash", "equity"}); err != nil {
		return err
	}
	for _, st := range states {
		for _, h := range st.History {
			if err := cw.Write([]string{string(st.StrategyID), h.Date.Format("2006-01-02"), ff(h.Cash), ff(h.Equity)}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

var tradesHeader = []string{
	"strategy", "order_id", "ticker", "side", "quantity", "state",
	"fill_price", "exit_price", "stop_loss", "take_profit", "commission", "pnl",
	"filled_at", "closed_at", "holding_days", "reason",
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Trades returns every order that reached the market, ordered by strategy
// and fill time.
func Trades(states []domain.LedgerState) []domain.Order {
	var out []domain.Order
	for _, st := range states {
		for _, o := range st.Orders {
			if o.FilledAt.IsZero() {
				continue
			}
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].FilledAt.Before(out[j].FilledAt)
	})
	return out
}

// WriteTradesCSV writes filled and closed orders.
func WriteTradesCSV(w io.Writer, states []domain.LedgerState) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradesHeader); err != nil {
		return err
	}
	for _, o := range Trades(states) {
		rec := []string{
			string(o.StrategyID), o.ID, o.Ticker, string(o.Side), strconv.FormatInt(o.Quantity, 10), string(o.State),
			ff(o.FillPrice), ff(o.ExitPrice), ff(o.StopLossPrice), ff(o.TakeProfitPrice), ff(o.Commission), ff(o.PNL()),
			stamp(o.FilledAt), stamp(o.ClosedAt), strconv.FormatFloat(o.HoldingPeriod().Hours()/24, 'f', 1, 64), o.Reason,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Export writes the bundle into dir in each requested format and returns the
// paths written. Files are prefixed with the bundle's generation time.
func Export(dir string, b *Bundle, formats ...string) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{FormatCSV, FormatJSON, FormatXLSX}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	prefix := filepath.Join(dir, b.GeneratedAt.Format("20060102_150405")+"_")

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := prefix + name
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	for _, format := range formats {
		var err error
		switch strings.ToLower(strings.TrimSpace(format)) {
		case FormatCSV:
			err = write("metrics.csv", func(w io.Writer) error { return WriteMetricsCSV(w, b.Rankings) })
			if err == nil {
				err = write("equity.csv", func(w io.Writer) error { return WriteEquityCSV(w, b.Ledgers) })
			}
			if err == nil {
				err = write("trades.csv", func(w io.Writer) error { return WriteTradesCSV(w, b.Ledgers) })
			}
		case FormatJSON:
			err = write("report.json", func(w io.Writer) error { return WriteJSON(w, b) })
		case FormatXLSX:
			err = write("report.xlsx", func(w io.Writer) error { return WriteXLSX(w, b) })
		default:
			err = fmt.Errorf("unknown export format %q: %w", format, ports.ErrInvalidRequest)
		}
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
