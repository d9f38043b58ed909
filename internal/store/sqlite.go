package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

//go:embed migrations/*.sql
var sqliteMigrations embed.FS

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// sqliteTime is a fixed-width UTC layout so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies any
// pending migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dbPath, err)
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations in lexicographic order, tracking them
// in schema_migrations.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);`
	if _, err := s.db.ExecContext(ctx, createTracker); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(sqliteMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)", entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := sqliteMigrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
			entry.Name(), time.Now().UTC().Format(sqliteTime),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveReport inserts the report header, trades and equity curve in one
// transaction.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *report.Report) error {
	header, err := json.Marshal(r.Header())
	if err != nil {
		return fmt.Errorf("sqlite: encode report %s: %w", r.ID, err)
	}
	symbols, err := json.Marshal(r.Symbols)
	if err != nil {
		return fmt.Errorf("sqlite: encode symbols: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO backtests (
			id, name, strategy, market, symbols, start_date, end_date, created_at,
			initial_capital, final_equity, total_return, sharpe_ratio, max_drawdown,
			num_trades, win_rate, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Strategy, r.Market, string(symbols),
		dateOrEmpty(r.Start), dateOrEmpty(r.End), r.CreatedAt.UTC().Format(sqliteTime),
		r.InitialCapital, r.FinalEquity, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
		r.NumTrades, r.WinRate, string(header),
	); err != nil {
		return fmt.Errorf("sqlite: insert backtest %s: %w", r.ID, err)
	}

	tstmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (
			backtest_id, seq, symbol, entry_time, exit_time, entry_price, exit_price, qty,
			gross_pnl, commission, slippage, net_pnl, return_pct, exit_reason, bars_held,
			strength, mae, mfe
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare trades: %w", err)
	}
	defer tstmt.Close()
	for i, t := range r.Trades {
		if _, err := tstmt.ExecContext(ctx,
			r.ID, i, t.Symbol, t.EntryTime.UTC().Format(sqliteTime), t.ExitTime.UTC().Format(sqliteTime),
			t.EntryPrice, t.ExitPrice, t.Qty, t.GrossPnL, t.Commission, t.Slippage, t.NetPnL,
			t.ReturnPct, string(t.ExitReason), t.BarsHeld, t.Strength, t.MAE, t.MFE,
		); err != nil {
			return fmt.Errorf("sqlite: insert trade %d: %w", i, err)
		}
	}

	estmt, err := tx.PrepareContext(ctx, `
		INSERT INTO equity_snapshots (
			backtest_id, seq, ts, cash, positions_value, equity, daily_return, open_positions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare equity: %w", err)
	}
	defer estmt.Close()
	for i, e := range r.Equity {
		if _, err := estmt.ExecContext(ctx,
			r.ID, i, e.Timestamp.UTC().Format(sqliteTime), e.Cash, e.PositionsValue, e.Equity,
			e.DailyReturn, e.OpenPositions,
		); err != nil {
			return fmt.Errorf("sqlite: insert snapshot %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit backtest %s: %w", r.ID, err)
	}
	return nil
}

// GetReport retrieves a full report by ID.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*report.Report, error) {
	var header string
	err := s.db.QueryRowContext(ctx, "SELECT report FROM backtests WHERE id = ?", id).Scan(&header)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("backtest %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get backtest %s: %w", id, err)
	}

	var r report.Report
	if err := json.Unmarshal([]byte(header), &r); err != nil {
		return nil, fmt.Errorf("sqlite: decode backtest %s: %w", id, err)
	}
	if r.Trades, err = s.trades(ctx, id); err != nil {
		return nil, err
	}
	if r.Equity, err = s.equity(ctx, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) trades(ctx context.Context, id string) ([]domain.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, entry_time, exit_time, entry_price, exit_price, qty, gross_pnl,
		       commission, slippage, net_pnl, return_pct, exit_reason, bars_held,
		       strength, mae, mfe
		FROM trades WHERE backtest_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query trades %s: %w", id, err)
	}
	defer rows.Close()

	out := []domain.ClosedTrade{}
	for rows.Next() {
		var (
			t           domain.ClosedTrade
			entry, exit string
			reason      string
		)
		if err := rows.Scan(
			&t.Symbol, &entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.Qty, &t.GrossPnL,
			&t.Commission, &t.Slippage, &t.NetPnL, &t.ReturnPct, &reason, &t.BarsHeld,
			&t.Strength, &t.MAE, &t.MFE,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.ExitReason = domain.ExitReason(reason)
		if t.EntryTime, err = time.Parse(sqliteTime, entry); err != nil {
			return nil, fmt.Errorf("sqlite: parse entry_time %q: %w", entry, err)
		}
		if t.ExitTime, err = time.Parse(sqliteTime, exit); err != nil {
			return nil, fmt.Errorf("sqlite: parse exit_time %q: %w", exit, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) equity(ctx context.Context, id string) ([]domain.EquitySnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, cash, positions_value, equity, daily_return, open_positions
		FROM equity_snapshots WHERE backtest_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query equity %s: %w", id, err)
	}
	defer rows.Close()

	out := []domain.EquitySnapshot{}
	for rows.Next() {
		var (
			e  domain.EquitySnapshot
			ts string
		)
		if err := rows.Scan(&ts, &e.Cash, &e.PositionsValue, &e.Equity, &e.DailyReturn, &e.OpenPositions); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		if e.Timestamp, err = time.Parse(sqliteTime, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse ts %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListReports returns report summaries, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, limit int) ([]report.Summary, error) {
	query := "SELECT report FROM backtests ORDER BY created_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list backtests: %w", err)
	}
	defer rows.Close()

	out := []report.Summary{}
	for rows.Next() {
		var header string
		if err := rows.Scan(&header); err != nil {
			return nil, fmt.Errorf("sqlite: scan backtest: %w", err)
		}
		var r report.Report
		if err := json.Unmarshal([]byte(header), &r); err != nil {
			return nil, fmt.Errorf("sqlite: decode backtest: %w", err)
		}
		out = append(out, r.Summary())
	}
	return out, rows.Err()
}

func dateOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}
