package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", "us", 2024)
	wantBarPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	ip := ps.indicatorPath("AAPL", "us", 2024)
	wantIndPath := filepath.Join("/data", "us", "daily", "AAPL", "2024.indicators.parquet")
	if ip != wantIndPath {
		t.Errorf("indicatorPath mismatch:\n  got  %s\n  want %s", ip, wantIndPath)
	}
	if !strings.HasPrefix(ip, filepath.Dir(bp)) {
		t.Errorf("indicator file %s not beside bar file %s", ip, bp)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     50000000,
			TradeCount: 500000,
			VWAP:       185.25,
			Indicators: map[string]float64{"atr_14": 2.5, "rsi_14": 48},
		},
		{
			Symbol:     "AAPL",
			Timestamp:  time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:       185.5,
			High:       187.0,
			Low:        185.0,
			Close:      186.0,
			Volume:     45000000,
			TradeCount: 450000,
			VWAP:       185.75,
		},
	}

	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", "us", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, bars[0].Timestamp)
	}
	if v, ok := got[0].Indicator("atr_14"); !ok || v != 2.5 {
		t.Errorf("atr_14 = %v (%v), want 2.5", v, ok)
	}
	if got[1].Indicators != nil {
		t.Errorf("second bar Indicators = %v, want none", got[1].Indicators)
	}

	// Range filter is inclusive and excludes the first day here.
	got, err = ps.ReadBars(ctx, "AAPL", "us", bars[1].Timestamp, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("ReadBars from day 2 returned %d bars, want 1", len(got))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
			Indicators: map[string]float64{"sma_20": 390},
		},
	}
	if err := ps.WriteBars(ctx, "us", bars1); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Another day plus a corrected indicator for the first one.
	bars2 := []domain.Bar{
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
			Open:      403.0, High: 410.0, Low: 402.0, Close: 408.0,
			Volume: 35000000, TradeCount: 350000, VWAP: 406.0,
		},
		{
			Symbol:    "MSFT",
			Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Open:      400.0, High: 405.0, Low: 399.0, Close: 403.0,
			Volume: 30000000, TradeCount: 300000, VWAP: 402.0,
			Indicators: map[string]float64{"sma_20": 391},
		},
	}
	if err := ps.WriteBars(ctx, "us", bars2); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", "us", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if v, _ := got[0].Indicator("sma_20"); v != 391 {
		t.Errorf("sma_20 after merge = %v, want 391", v)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, "us", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}

	if none, err := ps.ListSymbols(ctx, "cn"); err != nil || len(none) != 0 {
		t.Errorf("ListSymbols(cn) = %v, %v; want empty", none, err)
	}
}

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func sampleReport(id string, created time.Time) *report.Report {
	d0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return &report.Report{
		ID:             id,
		Name:           "nightly",
		Strategy:       "sma_cross",
		Market:         "us",
		Symbols:        []string{"AAPL", "MSFT"},
		Start:          d0,
		End:            d0.AddDate(0, 0, 1),
		CreatedAt:      created,
		InitialCapital: 100000,
		FinalEquity:    100500,
		TotalReturn:    0.005,
		SharpeRatio:    1.2,
		NumTrades:      1,
		WinRate:        1,
		ExitReasons:    map[domain.ExitReason]int{domain.ExitTakeProfit: 1},
		Trades: []domain.ClosedTrade{{
			Symbol: "AAPL", EntryTime: d0, ExitTime: d0.AddDate(0, 0, 1), EntryPrice: 100, ExitPrice: 105,
			Qty: 100, GrossPnL: 500, NetPnL: 500, ReturnPct: 0.05, ExitReason: domain.ExitTakeProfit, BarsHeld: 1,
			MFE: 0.06,
		}},
		Equity: []domain.EquitySnapshot{
			{Timestamp: d0, Cash: 90000, PositionsValue: 10000, Equity: 100000, OpenPositions: 1},
			{Timestamp: d0.AddDate(0, 0, 1), Cash: 100500, Equity: 100500, DailyReturn: 0.005},
		},
		Diagnostics: []domain.Diagnostic{
			{Symbol: "MSFT", Timestamp: d0, Reason: "invalid price"},
		},
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	// Migrations are idempotent.
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSQLiteStoreReports(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	older := sampleReport("run-a", time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	newer := sampleReport("run-b", time.Date(2024, 6, 1, 9, 0, 0, 500, time.UTC))
	for _, r := range []*report.Report{older, newer} {
		if err := s.SaveReport(ctx, r); err != nil {
			t.Fatalf("SaveReport(%s): %v", r.ID, err)
		}
	}

	got, err := s.GetReport(ctx, "run-a")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Strategy != "sma_cross" || got.FinalEquity != 100500 || got.ExitReasons[domain.ExitTakeProfit] != 1 {
		t.Errorf("header = %+v", got)
	}
	if len(got.Trades) != 1 || got.Trades[0].ExitReason != domain.ExitTakeProfit || !got.Trades[0].ExitTime.Equal(older.Trades[0].ExitTime) {
		t.Errorf("trades = %+v", got.Trades)
	}
	if len(got.Equity) != 2 || got.Equity[0].OpenPositions != 1 || got.Equity[1].Equity != 100500 {
		t.Errorf("equity = %+v", got.Equity)
	}
	if len(got.Diagnostics) != 1 || got.Diagnostics[0].Reason != "invalid price" || !got.Diagnostics[0].Timestamp.Equal(older.Start) {
		t.Errorf("diagnostics = %+v, want the skipped MSFT bar", got.Diagnostics)
	}

	if _, err := s.GetReport(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetReport(missing) = %v, want ErrNotFound", err)
	}

	list, err := s.ListReports(ctx, 0)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	if len(list) != 2 || list[0].ID != "run-b" || list[1].ID != "run-a" {
		t.Errorf("ListReports = %+v, want run-b then run-a", list)
	}
	if list, _ := s.ListReports(ctx, 1); len(list) != 1 {
		t.Errorf("ListReports(1) returned %d, want 1", len(list))
	}

	if err := s.SaveReport(ctx, older); err == nil {
		t.Error("saving a duplicate ID succeeded, want error")
	}
}
