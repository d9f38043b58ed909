package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"alphafactory/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// IndicatorRecord is the Parquet schema for indicator values, one row per
// (timestamp, indicator).
type IndicatorRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Name      string  `parquet:"name,dict"`
	Value     float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars and their indicators to Parquet files organized by
// symbol and year:
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.indicators.parquet
func (s *ParquetStore) WriteBars(ctx context.Context, market string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	barGroups := make(map[key][]BarRecord)
	indGroups := make(map[key][]IndicatorRecord)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		k := key{symbol: sym, year: b.Timestamp.UTC().Year()}
		ms := b.Timestamp.UnixMilli()
		barGroups[k] = append(barGroups[k], BarRecord{
			Symbol:     sym,
			Timestamp:  ms,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
		for name, v := range b.Indicators {
			indGroups[k] = append(indGroups[k], IndicatorRecord{Symbol: sym, Timestamp: ms, Name: name, Value: v})
		}
	}

	for k, records := range barGroups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(k.symbol, market, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)
		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}

		if ind := indGroups[k]; len(ind) > 0 {
			ipath := s.indicatorPath(k.symbol, market, k.year)
			existing, _ := readParquetFile[IndicatorRecord](ipath)
			if err := writeParquetFile(ipath, mergeIndicatorRecords(existing, ind)); err != nil {
				return fmt.Errorf("writing indicators for %s/%d: %w", k.symbol, k.year, err)
			}
		}
	}
	return nil
}

// ReadBars reads bars and attaches any stored indicator values.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := readParquetFile[BarRecord](s.barPath(symbol, market, year))
		if err != nil {
			// File doesn't exist for this year, skip.
			continue
		}

		byTS := make(map[int64]map[string]float64)
		if ind, err := readParquetFile[IndicatorRecord](s.indicatorPath(symbol, market, year)); err == nil {
			for _, r := range ind {
				m := byTS[r.Timestamp]
				if m == nil {
					m = make(map[string]float64)
					byTS[r.Timestamp] = m
				}
				m[r.Name] = r.Value
			}
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:     r.Symbol,
				Timestamp:  ts,
				Open:       r.Open,
				High:       r.High,
				Low:        r.Low,
				Close:      r.Close,
				Volume:     r.Volume,
				TradeCount: r.TradeCount,
				VWAP:       r.VWAP,
				Indicators: byTS[r.Timestamp],
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// indicatorPath returns the path of the indicator file beside a bar file.
func (s *ParquetStore) indicatorPath(symbol, market string, year int) string {
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.indicators.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeIndicatorRecords deduplicates indicator records by (timestamp, name),
// preferring new values. Results are sorted by timestamp then name.
func mergeIndicatorRecords(existing, incoming []IndicatorRecord) []IndicatorRecord {
	type key struct {
		ts   int64
		name string
	}
	seen := make(map[key]IndicatorRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Timestamp, r.Name}] = r
	}
	for _, r := range incoming {
		seen[key{r.Timestamp, r.Name}] = r
	}

	merged := make([]IndicatorRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Name < merged[j].Name
	})
	return merged
}
