package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
	"alphafactory/internal/store"
)

// Compile-time interface check.
var _ store.ResultStore = (*ResultStore)(nil)

// ResultStore implements store.ResultStore using PostgreSQL.
type ResultStore struct {
	pool *pgxpool.Pool
}

// NewResultStore creates a ResultStore backed by the given connection pool.
func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// SaveReport inserts the report header, then trades and snapshots with pgx
// batches, all in one transaction.
func (s *ResultStore) SaveReport(ctx context.Context, r *report.Report) error {
	header, err := json.Marshal(r.Header())
	if err != nil {
		return fmt.Errorf("postgres: encode report %s: %w", r.ID, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO backtests (
			id, name, strategy, market, symbols, start_date, end_date, created_at,
			initial_capital, final_equity, total_return, sharpe_ratio, max_drawdown,
			num_trades, win_rate, report
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.Name, r.Strategy, r.Market, r.Symbols, nullTime(r.Start), nullTime(r.End), r.CreatedAt,
		r.InitialCapital, r.FinalEquity, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
		r.NumTrades, r.WinRate, header,
	); err != nil {
		return fmt.Errorf("postgres: insert backtest %s: %w", r.ID, err)
	}

	batch := &pgx.Batch{}
	const tradeQuery = `
		INSERT INTO trades (
			backtest_id, seq, symbol, entry_time, exit_time, entry_price, exit_price, qty,
			gross_pnl, commission, slippage, net_pnl, return_pct, exit_reason, bars_held,
			strength, mae, mfe
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	for i, t := range r.Trades {
		batch.Queue(tradeQuery,
			r.ID, i, t.Symbol, t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice, t.Qty,
			t.GrossPnL, t.Commission, t.Slippage, t.NetPnL, t.ReturnPct, string(t.ExitReason),
			t.BarsHeld, t.Strength, t.MAE, t.MFE,
		)
	}
	const snapQuery = `
		INSERT INTO equity_snapshots (
			backtest_id, seq, ts, cash, positions_value, equity, daily_return, open_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, e := range r.Equity {
		batch.Queue(snapQuery,
			r.ID, i, e.Timestamp, e.Cash, e.PositionsValue, e.Equity, e.DailyReturn, e.OpenPositions,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert backtest %s batch item %d: %w", r.ID, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit backtest %s: %w", r.ID, err)
	}
	return nil
}

// GetReport retrieves a full report by ID.
func (s *ResultStore) GetReport(ctx context.Context, id string) (*report.Report, error) {
	var header []byte
	err := s.pool.QueryRow(ctx, "SELECT report FROM backtests WHERE id = $1", id).Scan(&header)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backtest %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get backtest %s: %w", id, err)
	}

	var r report.Report
	if err := json.Unmarshal(header, &r); err != nil {
		return nil, fmt.Errorf("postgres: decode backtest %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT symbol, entry_time, exit_time, entry_price, exit_price, qty, gross_pnl,
		       commission, slippage, net_pnl, return_pct, exit_reason, bars_held,
		       strength, mae, mfe
		FROM trades WHERE backtest_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: query trades %s: %w", id, err)
	}
	r.Trades, err = scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades %s: %w", id, err)
	}

	rows, err = s.pool.Query(ctx, `
		SELECT ts, cash, positions_value, equity, daily_return, open_positions
		FROM equity_snapshots WHERE backtest_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: query equity %s: %w", id, err)
	}
	r.Equity, err = scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan equity %s: %w", id, err)
	}
	return &r, nil
}

// ListReports returns report summaries, newest first.
func (s *ResultStore) ListReports(ctx context.Context, limit int) ([]report.Summary, error) {
	query := "SELECT report FROM backtests ORDER BY created_at DESC, id"
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list backtests: %w", err)
	}
	defer rows.Close()

	out := []report.Summary{}
	for rows.Next() {
		var header []byte
		if err := rows.Scan(&header); err != nil {
			return nil, fmt.Errorf("postgres: scan backtest: %w", err)
		}
		var r report.Report
		if err := json.Unmarshal(header, &r); err != nil {
			return nil, fmt.Errorf("postgres: decode backtest: %w", err)
		}
		out = append(out, r.Summary())
	}
	return out, rows.Err()
}

func scanTradeRows(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	defer rows.Close()
	out := []domain.ClosedTrade{}
	for rows.Next() {
		var (
			t      domain.ClosedTrade
			reason string
		)
		if err := rows.Scan(
			&t.Symbol, &t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice, &t.Qty, &t.GrossPnL,
			&t.Commission, &t.Slippage, &t.NetPnL, &t.ReturnPct, &reason, &t.BarsHeld,
			&t.Strength, &t.MAE, &t.MFE,
		); err != nil {
			return nil, err
		}
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime, t.ExitTime = t.EntryTime.UTC(), t.ExitTime.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.EquitySnapshot, error) {
	defer rows.Close()
	out := []domain.EquitySnapshot{}
	for rows.Next() {
		var e domain.EquitySnapshot
		if err := rows.Scan(&e.Timestamp, &e.Cash, &e.PositionsValue, &e.Equity, &e.DailyReturn, &e.OpenPositions); err != nil {
			return nil, err
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
