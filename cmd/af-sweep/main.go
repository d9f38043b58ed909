package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"alphafactory/internal/app"
	"alphafactory/internal/config"
	"alphafactory/internal/domain"
	"alphafactory/internal/strategy"
	"alphafactory/internal/sweep"
	"alphafactory/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $AF_CONFIG or config/alphafactory.yaml)")
	symbols := flag.String("symbols", "", "comma-separated symbols (default import.symbols)")
	start := flag.String("start", "", "first date, YYYY-MM-DD (default import.start_date)")
	end := flag.String("end", "", "last date, YYYY-MM-DD (default today)")
	parallel := flag.Int("parallel", 0, "concurrent runs (default sweep.parallelism)")
	top := flag.Int("top", 10, "variants to print")
	save := flag.Bool("save", false, "persist every successful variant's report")
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

	req := strategy.RunRequest{
		Strategy:          cfg.Strategy.Name,
		Params:            cfg.Strategy.Params,
		Market:            cfg.Import.Market,
		Symbols:           cfg.Import.Symbols,
		Start:             cfg.Import.StartTime(),
		End:               time.Now().UTC(),
		ComputeIndicators: cfg.Backtest.ComputeIndicators,
	}
	if *symbols != "" {
		req.Symbols = strings.Split(strings.ToUpper(*symbols), ",")
	}
	if *start != "" {
		if req.Start, err = time.Parse(time.DateOnly, *start); err != nil {
			log.Fatalf("bad -start: %v", err)
		}
	}
	if *end != "" {
		if req.End, err = time.Parse(time.DateOnly, *end); err != nil {
			log.Fatalf("bad -end: %v", err)
		}
	}
	if len(req.Symbols) == 0 {
		log.Fatal("no symbols: pass -symbols or set import.symbols")
	}

	series := make(map[string][]domain.Bar, len(req.Symbols))
	for _, sym := range req.Symbols {
		sym = strings.TrimSpace(sym)
		bars, err := deps.Bars.ReadBars(ctx, sym, req.Market, req.Start, req.End)
		if err != nil {
			log.Fatalf("loading %s: %v", sym, err)
		}
		if len(bars) > 0 {
			series[sym] = bars
		}
	}

	variants := cfg.Sweep.Grid.Variants(cfg.Backtest.EngineSettings())
	n := cfg.Sweep.Parallelism
	if *parallel > 0 {
		n = *parallel
	}
	logger.Info("starting sweep", "variants", len(variants), "symbols", len(series), "parallelism", n)

	outcomes, err := sweep.NewRunner(deps.Backtester, logger).Run(ctx, req, series, variants, n)
	if err != nil {
		cleanup()
		log.Fatalf("sweep failed: %v", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tVARIANT\tSHARPE\tRETURN\tMAX DD\tTRADES\tID")
	for i, o := range outcomes {
		if i >= *top {
			break
		}
		if o.Err != nil {
			fmt.Fprintf(tw, "%d\t%s\tfailed: %v\t\t\t\t\n", i+1, o.Variant.Name, o.Err)
			continue
		}
		r := o.Report
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.2f%%\t%.2f%%\t%d\t%s\n",
			i+1, o.Variant.Name, r.SharpeRatio, r.TotalReturn*100, r.MaxDrawdown*100, r.NumTrades, r.ID)
	}
	tw.Flush()

	if *save {
		for _, o := range outcomes {
			if o.Err != nil {
				continue
			}
			if err := deps.Results.SaveReport(ctx, o.Report); err != nil {
				logger.Error("saving variant report", "variant", o.Variant.Name, "error", err)
			}
		}
	}
}
