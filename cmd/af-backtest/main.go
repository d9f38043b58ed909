package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"alphafactory/internal/api"
	"alphafactory/internal/app"
	"alphafactory/internal/config"
	"alphafactory/internal/report"
	"alphafactory/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $AF_CONFIG or config/alphafactory.yaml)")
	symbols := flag.String("symbols", "", "comma-separated symbols to trade")
	strat := flag.String("strategy", "", "strategy name (default from config)")
	name := flag.String("name", "", "run label")
	market := flag.String("market", "", "market (default from config)")
	start := flag.String("start", "", "first date, YYYY-MM-DD")
	end := flag.String("end", "", "last date, YYYY-MM-DD (default today)")
	jsonOut := flag.String("json", "", "write the full report as JSON to this file")
	csvOut := flag.String("trades", "", "write the trade ledger as CSV to this file")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*cfgPath))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}
	defer cleanup()

	svc := api.NewService(deps.Results, deps.Backtester, deps.Registry, *cfg, logger)
	if deps.Archiver != nil {
		svc.SetArchiver(deps.Archiver)
	}

	req := api.BacktestRequest{
		Name:      *name,
		Strategy:  *strat,
		Market:    *market,
		Symbols:   splitSymbols(*symbols),
		StartDate: *start,
		EndDate:   *end,
	}
	if *strat == "" {
		req.Params = cfg.Strategy.Params
	}
	if len(req.Symbols) == 0 {
		req.Symbols = cfg.Import.Symbols
	}

	rep, err := svc.RunBacktest(ctx, req)
	if err != nil {
		cleanup()
		log.Fatalf("backtest failed: %v", err)
	}

	if err := report.WriteSummary(os.Stdout, rep); err != nil {
		log.Printf("writing summary: %v", err)
	}
	if *jsonOut != "" {
		if err := writeFile(*jsonOut, func(f *os.File) error { return report.WriteJSON(f, rep) }); err != nil {
			log.Printf("writing %s: %v", *jsonOut, err)
		}
	}
	if *csvOut != "" {
		if err := writeFile(*csvOut, func(f *os.File) error { return report.WriteTradesCSV(f, rep) }); err != nil {
			log.Printf("writing %s: %v", *csvOut, err)
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
