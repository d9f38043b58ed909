package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"alphafactory/internal/config"
	"alphafactory/internal/gather"
	"alphafactory/internal/gather/us"
	"alphafactory/internal/store"
	"alphafactory/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $AF_CONFIG or config/alphafactory.yaml)")
	symbols := flag.String("symbols", "", "comma-separated symbols, added to import.symbols")
	csvPath := flag.String("csv", "", "CSV file with one symbol per row")
	start := flag.String("start", "", "first date, YYYY-MM-DD (default import.start_date)")
	end := flag.String("end", "", "last date, YYYY-MM-DD (default last closed session)")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*cfgPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		log.Fatal("alpaca credentials missing: set APCA_API_KEY_ID and APCA_API_SECRET_KEY")
	}

	explicit := cfg.Import.Symbols
	if *symbols != "" {
		explicit = append(explicit, strings.Split(*symbols, ",")...)
	}
	syms, err := us.ResolveSymbols(explicit, *csvPath)
	if err != nil {
		log.Fatalf("resolving symbols: %v", err)
	}

	rng := gather.DateRange{Start: cfg.Import.StartTime()}
	if *start != "" {
		if rng.Start, err = time.Parse(time.DateOnly, *start); err != nil {
			log.Fatalf("bad -start: %v", err)
		}
	}
	if *end != "" {
		if rng.End, err = time.Parse(time.DateOnly, *end); err != nil {
			log.Fatalf("bad -end: %v", err)
		}
	}

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	var g gather.Gatherer = us.NewDailyBarImporter(
		us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		bars,
		us.ImporterConfig{
			Market:          cfg.Import.Market,
			Symbols:         syms,
			Range:           rng,
			BatchSize:       cfg.Import.BatchSize,
			Feed:            cfg.Alpaca.Feed,
			RateLimitPerMin: cfg.Import.RateLimitPerMin,
			Indicators:      cfg.Import.Indicators,
			StateDir:        filepath.Join(cfg.Storage.DataDir, "state"),
		},
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting import", "gatherer", g.Name(), "symbols", len(syms), "start", rng.Start.Format(time.DateOnly))
	if err := g.Run(ctx); err != nil {
		log.Fatalf("import failed: %v", err)
	}
}
