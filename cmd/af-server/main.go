package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"alphafactory/internal/api"
	"alphafactory/internal/app"
	"alphafactory/internal/config"
	"alphafactory/internal/util"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $AF_CONFIG or config/alphafactory.yaml)")
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
	svc.SetHub(api.NewHub(logger))

	logger.Info("af-server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpc_port", cfg.Server.GRPCPort,
		"strategies", deps.Registry.List(),
	)
	if err := api.NewServer(cfg.Server, svc, logger).ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		cleanup()
		log.Fatalf("server error: %v", err)
	}
	logger.Info("af-server stopped")
}
