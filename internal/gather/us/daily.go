package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"alphafactory/internal/domain"
	"alphafactory/internal/gather"
	"alphafactory/internal/indicator"
	"alphafactory/internal/store"
	"alphafactory/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*DailyBarImporter)(nil)

// BarFetcher is the subset of *marketdata.Client the importer calls.
type BarFetcher interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// NewAlpacaClient builds a market data client. An empty dataURL uses the
// SDK default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// ImporterConfig configures a DailyBarImporter.
type ImporterConfig struct {
	Market    string
	Symbols   []string
	Range     gather.DateRange // zero End means the last closed session
	BatchSize int
	Feed      string

	// RateLimitPerMin paces GetMultiBars calls; <= 0 is unlimited.
	RateLimitPerMin int

	// Indicators attaches the default indicator set before writing.
	Indicators bool

	// RetryDelay is the first backoff between fetch attempts.
	RetryDelay time.Duration

	// StateDir holds resume state; empty disables it.
	StateDir string

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// DailyBarImporter fetches daily OHLCV bars from Alpaca in symbol batches
// and writes them, optionally with indicators, to a bar store.
type DailyBarImporter struct {
	fetcher BarFetcher
	store   store.BarStore
	cfg     ImporterConfig
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewDailyBarImporter creates an importer.
func NewDailyBarImporter(fetcher BarFetcher, s store.BarStore, cfg ImporterConfig, log *slog.Logger) *DailyBarImporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Market == "" {
		cfg.Market = string(domain.MarketUS)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &DailyBarImporter{
		fetcher: fetcher,
		store:   s,
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		log:     log.With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarImporter) Name() string { return "us-daily" }

// Run imports every configured symbol over the date range. It is resumable
// within a session: symbols known to return nothing are skipped, and a pass
// that already completed for the same end date is a no-op.
func (g *DailyBarImporter) Run(ctx context.Context) error {
	symbols := normalizeSymbols(g.cfg.Symbols)
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols to import", domain.ErrInvalidConfig)
	}
	rng := g.cfg.Range
	if rng.End.IsZero() {
		rng.End = util.NewTradingCalendar(domain.Market(g.cfg.Market)).LastSession(g.cfg.Now())
	}
	if !rng.Valid() {
		return fmt.Errorf("%w: import range %s..%s", domain.ErrInvalidConfig,
			rng.Start.Format(time.DateOnly), rng.End.Format(time.DateOnly))
	}
	endDate := rng.End.Format(time.DateOnly)

	var st *importState
	if g.cfg.StateDir != "" {
		var err error
		st, err = loadImportState(filepath.Join(g.cfg.StateDir, g.cfg.Market, stateFile))
		if err != nil {
			return err
		}
		if st.CompletedThrough == endDate {
			g.log.Info("already completed", "end", endDate)
			return nil
		}
		if st.Session != endDate {
			st.reset(endDate)
		}
		symbols = st.pending(symbols)
	}

	batches := chunk(symbols, g.cfg.BatchSize)
	g.log.Info("starting import",
		"symbols", len(symbols),
		"batches", len(batches),
		"start", rng.Start.Format(time.DateOnly),
		"end", endDate,
	)

	var (
		written, empty, failed int
		runStart               = time.Now()
	)
	for i, batch := range batches {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		var got map[string][]marketdata.Bar
		err := util.Retry(ctx, 3, g.cfg.RetryDelay, func(context.Context) error {
			var ferr error
			got, ferr = g.fetcher.GetMultiBars(batch, marketdata.GetBarsRequest{
				TimeFrame: marketdata.OneDay,
				Start:     rng.Start,
				End:       rng.End,
				Feed:      marketdata.Feed(g.cfg.Feed),
			})
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.log.Error("batch fetch failed", "batch", fmt.Sprintf("%d/%d", i+1, len(batches)), "error", err)
			failed++
			continue
		}

		bars, missing := g.convert(batch, got)
		if len(bars) > 0 {
			if err := g.store.WriteBars(ctx, g.cfg.Market, bars); err != nil {
				return fmt.Errorf("writing batch %d: %w", i+1, err)
			}
		}
		written += len(batch) - len(missing)
		empty += len(missing)

		if st != nil {
			st.markEmpty(missing)
			if err := st.save(); err != nil {
				return err
			}
		}
		g.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
			"bars", len(bars),
			"empty", len(missing),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	if failed > 0 {
		g.log.Warn("incomplete", "failed_batches", failed, "symbols", written, "empty", empty)
		return nil
	}
	if st != nil {
		st.CompletedThrough = endDate
		if err := st.save(); err != nil {
			return err
		}
	}
	g.log.Info("complete", "symbols", written, "empty", empty, "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// convert maps Alpaca bars to domain bars, sorted per symbol, with
// indicators attached when configured. missing lists requested symbols that
// came back empty.
func (g *DailyBarImporter) convert(requested []string, got map[string][]marketdata.Bar) (bars []domain.Bar, missing []string) {
	bySymbol := make(map[string][]domain.Bar, len(got))
	for symbol, abs := range got {
		sym := strings.ToUpper(symbol)
		for _, ab := range abs {
			bySymbol[sym] = append(bySymbol[sym], domain.Bar{
				Symbol:     sym,
				Timestamp:  ab.Timestamp.UTC(),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}

	for _, sym := range requested {
		series := bySymbol[sym]
		if len(series) == 0 {
			missing = append(missing, sym)
			continue
		}
		sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
		if g.cfg.Indicators {
			indicator.Attach(series, indicator.DefaultSet())
		}
		bars = append(bars, series...)
	}
	return bars, missing
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func chunk(symbols []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(symbols); i += size {
		out = append(out, symbols[i:min(i+size, len(symbols))])
	}
	return out
}
