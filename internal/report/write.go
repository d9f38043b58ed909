package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"alphafactory/internal/domain"
)

// WriteJSON encodes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

var tradeHeader = []string{
	"symbol", "entry_time", "exit_time", "entry_price", "exit_price", "qty",
	"gross_pnl", "commission", "slippage", "net_pnl", "return_pct",
	"exit_reason", "bars_held", "mae", "mfe",
}

// WriteTradesCSV writes the trade ledger with a header row.
func WriteTradesCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range r.Trades {
		rec := []string{
			t.Symbol,
			t.EntryTime.Format(time.DateOnly),
			t.ExitTime.Format(time.DateOnly),
			formatF(t.EntryPrice),
			formatF(t.ExitPrice),
			strconv.FormatInt(t.Qty, 10),
			formatF(t.GrossPnL),
			formatF(t.Commission),
			formatF(t.Slippage),
			formatF(t.NetPnL),
			formatF(t.ReturnPct),
			string(t.ExitReason),
			strconv.Itoa(t.BarsHeld),
			formatF(t.MAE),
			formatF(t.MFE),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// WriteSummary prints a human-readable digest of r.
func WriteSummary(w io.Writer, r *Report) error {
	p := message.NewPrinter(language.English)

	pf := p.Sprintf("%.2f", r.ProfitFactor)
	if r.ProfitFactorInfinite {
		pf = "inf"
	}

	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, p.Sprintf(format, args...))
	}
	add("Backtest %s (%s)", r.ID, r.Strategy)
	if !r.Start.IsZero() {
		add("Period           %s .. %s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	}
	add("Symbols          %d", len(r.Symbols))
	add("Initial capital  %.2f", r.InitialCapital)
	add("Final equity     %.2f", r.FinalEquity)
	add("Total return     %.2f%%", r.TotalReturn*100)
	add("Annual return    %.2f%%", r.AnnualReturn*100)
	add("Volatility       %.2f%%", r.Volatility*100)
	add("Sharpe           %.3f", r.SharpeRatio)
	add("Sortino          %.3f", r.SortinoRatio)
	add("Max drawdown     %.2f%%", r.MaxDrawdown*100)
	add("Calmar           %.3f", r.CalmarRatio)
	add("Trades           %d (won %d, lost %d)", r.NumTrades, r.WinningTrades, r.LosingTrades)
	add("Win rate         %.1f%%", r.WinRate*100)
	lines = append(lines, "Profit factor    "+pf)
	add("Costs            %.2f commission, %.2f slippage", r.CommissionTotal, r.SlippageTotal)

	for _, reason := range domain.ExitReasons {
		if n := r.ExitReasons[reason]; n > 0 {
			add("  exit %-14s %d", reason, n)
		}
	}
	if len(r.Diagnostics) > 0 {
		add("Skipped bars     %d", len(r.Diagnostics))
	}

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
