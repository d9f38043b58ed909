package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit", ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"}, "postgres://x@y/z"},
		{"defaults", ClientConfig{Host: "db", Database: "af", User: "u", Password: "p"}, "postgres://u:p@db:5432/af?sslmode=disable"},
		{"custom", ClientConfig{Host: "db", Port: 6543, Database: "af", User: "u", Password: "p", SSLMode: "require"}, "postgres://u:p@db:6543/af?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_backtests.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("migration is empty")
	}
}

// TestResultStoreLive needs a scratch database in AF_TEST_POSTGRES_DSN.
func TestResultStoreLive(t *testing.T) {
	dsn := os.Getenv("AF_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AF_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	s := NewResultStore(c.Pool())
	d0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	r := &report.Report{
		ID:             uuid.NewString(),
		Strategy:       "sma_cross",
		Symbols:        []string{"AAPL"},
		Start:          d0,
		End:            d0.AddDate(0, 0, 1),
		CreatedAt:      time.Now().UTC(),
		InitialCapital: 1000,
		FinalEquity:    1010,
		Trades: []domain.ClosedTrade{{
			Symbol: "AAPL", EntryTime: d0, ExitTime: d0.AddDate(0, 0, 1), EntryPrice: 10, ExitPrice: 11,
			Qty: 10, GrossPnL: 10, NetPnL: 10, ReturnPct: 0.1, ExitReason: domain.ExitSignal, BarsHeld: 1,
		}},
		Equity: []domain.EquitySnapshot{{Timestamp: d0, Cash: 1000, Equity: 1000}},
	}
	if err := s.SaveReport(ctx, r); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	t.Cleanup(func() { _, _ = c.Pool().Exec(ctx, "DELETE FROM backtests WHERE id = $1", r.ID) })

	got, err := s.GetReport(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if len(got.Trades) != 1 || got.Trades[0].ExitReason != domain.ExitSignal || !got.Trades[0].EntryTime.Equal(d0) {
		t.Errorf("trades = %+v", got.Trades)
	}
	if len(got.Equity) != 1 {
		t.Errorf("equity = %+v", got.Equity)
	}
	if _, err := s.GetReport(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetReport(missing) = %v, want ErrNotFound", err)
	}
	list, err := s.ListReports(ctx, 10)
	if err != nil || len(list) == 0 {
		t.Errorf("ListReports = %v, %v", list, err)
	}
}
