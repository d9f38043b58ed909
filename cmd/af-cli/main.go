package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"alphafactory/internal/api"
	"alphafactory/internal/report"
	"alphafactory/pkg/alphafactory"
)

const version = "0.1.0"

func main() {
	server := flag.String("server", envOr("AF_SERVER", "http://localhost:8080"), "alphafactory server URL")
	grpcAddr := flag.String("grpc", envOr("AF_GRPC", "localhost:9090"), "alphafactory gRPC address")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: af-cli [-server URL] [-grpc ADDR] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version                      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  strategies                   List strategies the server can run\n")
		fmt.Fprintf(os.Stderr, "  list [limit]                 List recent backtests\n")
		fmt.Fprintf(os.Stderr, "  show <id>                    Print a backtest summary\n")
		fmt.Fprintf(os.Stderr, "  run <strategy> <SYM,...> [start] [end]\n")
		fmt.Fprintf(os.Stderr, "                               Run a backtest on the server\n")
		fmt.Fprintf(os.Stderr, "  grpc-show <id>               Fetch a report over gRPC\n")
		fmt.Fprintf(os.Stderr, "\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	c := alphafactory.NewClient(*server)

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("af-cli %s\n", version)

	case "strategies":
		var names []string
		if names, err = c.Strategies(ctx); err == nil {
			fmt.Println(strings.Join(names, "\n"))
		}

	case "list":
		limit := 20
		if len(args) > 1 {
			fmt.Sscanf(args[1], "%d", &limit)
		}
		var list []alphafactory.Summary
		if list, err = c.ListBacktests(ctx, limit); err == nil {
			printList(list)
		}

	case "show":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		var rep *alphafactory.Report
		if rep, err = c.GetBacktest(ctx, args[1]); err == nil {
			err = report.WriteSummary(os.Stdout, rep)
		}

	case "run":
		if len(args) < 3 {
			flag.Usage()
			os.Exit(1)
		}
		req := alphafactory.BacktestRequest{Strategy: args[1], Symbols: strings.Split(args[2], ",")}
		if len(args) > 3 {
			req.StartDate = args[3]
		}
		if len(args) > 4 {
			req.EndDate = args[4]
		}
		var rep *alphafactory.Report
		if rep, err = c.RunBacktest(ctx, req); err == nil {
			err = report.WriteSummary(os.Stdout, rep)
		}

	case "grpc-show":
		if len(args) < 2 {
			flag.Usage()
			os.Exit(1)
		}
		rc, conn, derr := api.DialReports(*grpcAddr)
		if derr != nil {
			err = derr
			break
		}
		defer conn.Close()
		var rep *report.Report
		if rep, err = rc.GetReport(ctx, args[1]); err == nil {
			err = report.WriteSummary(os.Stdout, rep)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printList(list []alphafactory.Summary) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSTRATEGY\tSYMBOLS\tRETURN\tSHARPE\tTRADES")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\t%.3f\t%d\n",
			s.ID, s.CreatedAt.Format(time.DateTime), s.Strategy, len(s.Symbols),
			s.TotalReturn*100, s.SharpeRatio, s.NumTrades)
	}
	tw.Flush()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
