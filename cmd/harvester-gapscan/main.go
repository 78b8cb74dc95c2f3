// harvester-gapscan reports missing ranges in stored series without
// touching the upstream. Useful for auditing a dataset before a backfill.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"harvester/internal/config"
	"harvester/internal/domain"
	"harvester/internal/store"
	"harvester/internal/util"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("HARVESTER_CONFIG"), "path to YAML config (optional)")
		symbolsCSV = flag.String("symbols", "", "comma-separated symbols, overrides config")
		seriesName = flag.String("type", "candles", "series type: candles or funding")
		period     = flag.String("period", "1h", "candle interval (candles only)")
		startStr   = flag.String("start", "", "scan start, YYYY-MM-DD (default: extract.default_start)")
		endStr     = flag.String("end", "", "scan end, YYYY-MM-DD (default: now)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	seriesType, err := domain.ParseSeriesType(*seriesName)
	if err != nil {
		log.Fatalf("bad -type: %v", err)
	}
	if seriesType == domain.SeriesTrades {
		log.Fatal("trades have no fixed cadence; gap scanning does not apply")
	}
	interval, err := domain.ParseInterval(*period)
	if err != nil {
		log.Fatalf("bad -period: %v", err)
	}

	col := store.Candles(interval)
	cadence := interval.Duration()
	if seriesType == domain.SeriesFunding {
		col = store.Funding
		cadence = domain.FundingInterval
	}

	symbols := cfg.Extract.Symbols
	if *symbolsCSV != "" {
		symbols = splitSymbols(*symbolsCSV)
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols: pass -symbols or set extract.symbols in the config")
	}

	if *startStr == "" {
		*startStr = cfg.Extract.DefaultStart
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("bad -start: %v", err)
	}
	end := time.Now().UTC().Truncate(cadence)
	if *endStr != "" {
		end, err = time.Parse("2006-01-02", *endStr)
		if err != nil {
			log.Fatalf("bad -end: %v", err)
		}
	}

	factory, err := store.FactoryFor(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	sink, err := factory()
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	ctx := context.Background()
	if err := sink.Connect(ctx); err != nil {
		log.Fatalf("storage connect: %v", err)
	}
	defer sink.Close()

	tolerance := time.Duration(cfg.Extract.GapToleranceMinutes) * time.Minute

	total := 0
	for _, symbol := range symbols {
		found, err := sink.FindGaps(ctx, col, symbol, start, end, cadence, tolerance)
		if err != nil {
			log.Fatalf("%s: gap scan failed: %v", symbol, err)
		}
		total += len(found)
		if len(found) == 0 {
			fmt.Printf("%-12s %s: complete\n", symbol, col)
			continue
		}
		fmt.Printf("%-12s %s: %d gaps\n", symbol, col, len(found))
		for _, g := range found {
			fmt.Printf("    [%s, %s)  %s missing\n",
				g.Start.Format(time.RFC3339),
				g.End.Format(time.RFC3339),
				g.End.Sub(g.Start),
			)
		}
	}

	if total > 0 {
		os.Exit(1)
	}
}

func splitSymbols(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
