// Package store defines storage interfaces for bar history and backtest
// results, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"alphafactory/internal/domain"
	"alphafactory/internal/report"
)

// BarStore persists and retrieves daily bars with their indicator values.
type BarStore interface {
	// WriteBars persists a batch of bars for market, merging with what is
	// already stored.
	WriteBars(ctx context.Context, market string, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// in chronological order.
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists completed backtest reports.
type ResultStore interface {
	// SaveReport inserts a report with its trades and equity curve.
	SaveReport(ctx context.Context, r *report.Report) error

	// GetReport retrieves a full report by ID, or domain.ErrNotFound.
	GetReport(ctx context.Context, id string) (*report.Report, error)

	// ListReports returns the most recent report summaries, newest first.
	// A limit <= 0 returns all of them.
	ListReports(ctx context.Context, limit int) ([]report.Summary, error)
}
