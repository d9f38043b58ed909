package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"alphafactory/internal/broker"
	"alphafactory/internal/domain"
	"alphafactory/internal/metrics"
)

// book is the mutable account state of one run: the cash pool, the open
// positions and the closed-trade ledger. Both engines drive a book; nothing
// outside a single Run ever touches one.
type book struct {
	settings  Settings
	cash      *CashBook
	broker    broker.Broker
	positions map[string]*domain.Position
	trades    []domain.ClosedTrade
	opened    int
	log       *slog.Logger
}

func newBook(s Settings, b broker.Broker, log *slog.Logger) *book {
	return &book{
		settings:  s,
		cash:      NewCashBook(s.InitialCapital),
		broker:    b,
		positions: make(map[string]*domain.Position),
		log:       log,
	}
}

// positionsValue marks every open position at its last seen close.
func (bk *book) positionsValue() float64 {
	var v float64
	for _, p := range bk.positions {
		v += p.MarketValue()
	}
	return v
}

func (bk *book) equity() float64 {
	return bk.cash.Balance() + bk.positionsValue()
}

// available is the capital an entry may be sized against: cash less the
// reserve. Entry costs are fitted to cash after sizing, in tryOpen.
func (bk *book) available() float64 {
	avail := bk.cash.Balance()
	if bk.settings.ReserveCashPct > 0 {
		avail -= bk.equity() * bk.settings.ReserveCashPct
	}
	if avail <= 0 {
		return 0
	}
	return avail
}

// advance moves an open position through one bar: bars held, excursion
// marks, then the risk rules and finally an exit signal. It reports whether
// the position was closed.
func (bk *book) advance(pos *domain.Position, bar domain.Bar) bool {
	pos.BarsHeld++
	pos.Mark(bar)

	if d := bk.settings.Risk.EvaluateExit(pos, bar); d != nil {
		bk.close(pos.Symbol, bar.Timestamp, d.Price, d.Reason)
		return true
	}
	if bar.Signal.Type == domain.SignalExitLong {
		bk.close(pos.Symbol, bar.Timestamp, bar.Close, domain.ExitSignal)
		return true
	}
	return false
}

// tryOpen sizes an entry at bar.Close and opens it when at least one share
// fits. Sizing shortfalls are not errors; the entry is simply skipped.
func (bk *book) tryOpen(bar domain.Bar) bool {
	atr, _ := bar.Indicator(bk.settings.ATRIndicator)
	in := SizingInput{ATR: atr}
	if bk.settings.Sizer.Method == SizingKelly {
		in.Stats = metrics.ComputeTradeStats(bk.trades)
	}

	qty, _ := bk.settings.Sizer.Size(bk.available(), bar.Close, in)
	if qty == 0 {
		bk.log.Debug("entry skipped", "symbol", bar.Symbol, "date", bar.Timestamp.Format(time.DateOnly), "reason", "zero quantity")
		return false
	}

	cash := bk.cash.Balance()
	fill := bk.broker.Execute(domain.OrderSideBuy, bar.Close, qty)
	for fill.Qty > 0 && fill.Notional+fill.Cost() > cash {
		fill = bk.broker.Execute(domain.OrderSideBuy, bar.Close, fill.Qty-1)
	}
	if fill.Qty == 0 {
		bk.log.Debug("entry skipped", "symbol", bar.Symbol, "date", bar.Timestamp.Format(time.DateOnly), "reason", "costs exceed cash")
		return false
	}
	if err := bk.cash.Debit(fill.Notional + fill.Cost()); err != nil {
		bk.log.Debug("entry skipped", "symbol", bar.Symbol, "error", err)
		return false
	}

	stop, target := bk.settings.Risk.Levels(bar.Close, atr)
	bk.positions[bar.Symbol] = &domain.Position{
		Symbol:          bar.Symbol,
		EntryTime:       bar.Timestamp,
		EntryPrice:      bar.Close,
		Qty:             fill.Qty,
		StopPrice:       stop,
		TargetPrice:     target,
		HighWaterMark:   bar.Close,
		Strength:        bar.Signal.Strength,
		EntryCommission: fill.Commission,
		EntrySlippage:   fill.Slippage,
		LastPrice:       bar.Close,
	}
	bk.opened++

	bk.log.Debug("position opened",
		"symbol", bar.Symbol,
		"date", bar.Timestamp.Format(time.DateOnly),
		"qty", fill.Qty,
		"price", bar.Close,
		"stop", stop,
		"target", target,
	)
	return true
}

// close realizes the position for symbol at price and books the trade.
func (bk *book) close(symbol string, ts time.Time, price float64, reason domain.ExitReason) domain.ClosedTrade {
	pos := bk.positions[symbol]
	fill := bk.broker.Execute(domain.OrderSideSell, price, pos.Qty)
	bk.cash.Credit(fill.Notional - fill.Cost())

	qty := float64(pos.Qty)
	gross := (price - pos.EntryPrice) * qty
	commission := pos.EntryCommission + fill.Commission
	slippage := pos.EntrySlippage + fill.Slippage
	net := gross - commission - slippage

	trade := domain.ClosedTrade{
		Symbol:     symbol,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Qty:        pos.Qty,
		GrossPnL:   gross,
		Commission: commission,
		Slippage:   slippage,
		NetPnL:     net,
		ReturnPct:  net / (pos.EntryPrice * qty),
		ExitReason: reason,
		BarsHeld:   pos.BarsHeld,
		Strength:   pos.Strength,
		MAE:        pos.MAE,
		MFE:        pos.MFE,
	}
	delete(bk.positions, symbol)
	bk.trades = append(bk.trades, trade)

	bk.log.Debug("position closed",
		"symbol", symbol,
		"date", ts.Format(time.DateOnly),
		"reason", reason,
		"price", price,
		"net_pnl", net,
	)
	return trade
}

// snapshot records the account state at ts.
func (bk *book) snapshot(ts time.Time, prevEquity float64) domain.EquitySnapshot {
	cash := bk.cash.Balance()
	pv := bk.positionsValue()
	eq := cash + pv
	var ret float64
	if prevEquity != 0 {
		ret = eq/prevEquity - 1
	}
	return domain.EquitySnapshot{
		Timestamp:      ts,
		Cash:           cash,
		PositionsValue: pv,
		Equity:         eq,
		DailyReturn:    ret,
		OpenPositions:  len(bk.positions),
	}
}

// forceCloseAll closes every open position at its instrument's last bar and
// rewrites the final snapshot so it reflects the realized exit costs.
func (bk *book) forceCloseAll(last map[string]domain.Bar, res *Result) {
	if len(bk.positions) == 0 {
		return
	}
	symbols := make([]string, 0, len(bk.positions))
	for sym := range bk.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		bar := last[sym]
		bk.close(sym, bar.Timestamp, bar.Close, domain.ExitForcedClose)
	}

	if n := len(res.Equity); n > 0 {
		prev := bk.settings.InitialCapital
		if n > 1 {
			prev = res.Equity[n-2].Equity
		}
		res.Equity[n-1] = bk.snapshot(res.Equity[n-1].Timestamp, prev)
	}
}

// sanitize drops bars the engine cannot act on and explains each drop.
func sanitize(symbol string, bars []domain.Bar) ([]domain.Bar, []domain.Diagnostic) {
	clean := make([]domain.Bar, 0, len(bars))
	var diags []domain.Diagnostic
	var last time.Time
	for _, b := range bars {
		if b.Symbol == "" {
			b.Symbol = symbol
		}
		switch {
		case len(clean) > 0 && !b.Timestamp.After(last):
			diags = append(diags, domain.Diagnostic{Symbol: symbol, Timestamp: b.Timestamp, Reason: "non-monotonic timestamp"})
			continue
		case !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close):
			diags = append(diags, domain.Diagnostic{Symbol: symbol, Timestamp: b.Timestamp, Reason: "invalid price"})
			continue
		}
		clean = append(clean, b)
		last = b.Timestamp
	}
	return clean, diags
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// checkIndicators fails when a configured rule needs an indicator that no
// bar of the series carries.
func checkIndicators(s Settings, symbol string, bars []domain.Bar) error {
	if !s.needsATR() || len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		if b.HasIndicator(s.ATRIndicator) {
			return nil
		}
	}
	return fmt.Errorf("%s: %q: %w", symbol, s.ATRIndicator, domain.ErrMissingIndicator)
}
