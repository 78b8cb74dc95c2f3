package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"harvester/internal/batch"
	"harvester/internal/config"
	"harvester/internal/domain"
	"harvester/internal/extract"
	"harvester/internal/metrics"
	"harvester/internal/notify"
	"harvester/internal/ratelimit"
	"harvester/internal/retry"
	"harvester/internal/store"
	"harvester/internal/upstream/binance"
	"harvester/internal/util"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("HARVESTER_CONFIG"), "path to YAML config (optional)")
		symbolsCSV = flag.String("symbols", "", "comma-separated symbols, overrides config")
		seriesName = flag.String("type", "candles", "series type: candles, trades, funding")
		period     = flag.String("period", "1h", "candle interval (candles only)")
		workers    = flag.Int("workers", 0, "concurrent symbol workers, overrides config")
		batchSize  = flag.Int("batch-size", 0, "initial storage batch size, overrides config")
		dryRun     = flag.Bool("dry-run", false, "fetch without writing")
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
	interval, err := domain.ParseInterval(*period)
	if err != nil {
		log.Fatalf("bad -period: %v", err)
	}

	symbols := cfg.Extract.Symbols
	if *symbolsCSV != "" {
		symbols = splitSymbols(*symbolsCSV)
	}
	if len(symbols) == 0 {
		log.Fatal("no symbols: pass -symbols or set extract.symbols in the config")
	}

	defaultStart, err := time.Parse("2006-01-02", cfg.Extract.DefaultStart)
	if err != nil {
		log.Fatalf("bad extract.default_start: %v", err)
	}

	client := binance.New(binance.Config{
		BaseURL:     cfg.Exchange.BaseURL,
		HTTPTimeout: time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
	})

	factory, err := store.FactoryFor(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var publisher notify.Publisher = notify.Nop{}
	if cfg.Notify.URL != "" {
		p, err := notify.NewAMQP(cfg.Notify.URL, cfg.Notify.Exchange, cfg.Notify.Prefix)
		if err != nil {
			logger.Warn("event broker unavailable, notifications disabled", "err", err)
		} else {
			publisher = p
			defer p.Close()
		}
	}

	if cfg.Metrics.Addr != "" {
		metrics.Serve(cfg.Metrics.Addr, logger)
	}

	policy := retry.DefaultPolicy()
	if cfg.Extract.MaxRetries > 0 {
		policy.MaxRetries = cfg.Extract.MaxRetries
	}

	numWorkers := cfg.Extract.MaxWorkers
	if *workers > 0 {
		numWorkers = *workers
	}
	initialBatch := cfg.Extract.BatchSize
	if *batchSize > 0 {
		initialBatch = *batchSize
	}

	coord := &extract.Coordinator{
		Series:    extract.SeriesFor(client, seriesType, interval),
		Factory:   factory,
		Limiter:   ratelimit.New(cfg.Exchange.RateLimitPerMin, time.Minute),
		Retrier:   retry.New(logger),
		Bootstrap: client.Ping,
		Publisher: publisher,
		Workers:   numWorkers,
		BatchConfig: batch.Config{
			Initial: initialBatch,
		},
		WorkerCfg: extract.Config{
			Overlap:      time.Duration(cfg.Extract.OverlapMinutes) * time.Minute,
			EndBuffer:    time.Duration(cfg.Extract.EndBufferMinutes) * time.Minute,
			MaxCatchup:   time.Duration(cfg.Extract.MaxCatchupDays) * 24 * time.Hour,
			DefaultStart: defaultStart,
			GapTolerance: time.Duration(cfg.Extract.GapToleranceMinutes) * time.Minute,
			HealEnabled:  cfg.Extract.HealGaps,
			HealChunk:    time.Duration(cfg.Extract.HealChunkDays) * 24 * time.Hour,
			RetryPolicy:  policy,
			DryRun:       *dryRun,
		},
		Log: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := coord.Run(ctx, symbols)
	if err != nil {
		logger.Error("run aborted", "err", err)
		os.Exit(1)
	}

	// Funding runs also report the live rate between settlements.
	if seriesType == domain.SeriesFunding && res.Status == extract.RunSucceeded {
		reportPremiumIndex(client, symbols, logger)
	}
	if res.Status == extract.RunInterrupted {
		logger.Warn("run interrupted",
			"processed", res.SymbolsProcessed,
			"written", res.RecordsWritten,
		)
		os.Exit(130)
	}
	if !res.Success() {
		logger.Warn("run completed with failures",
			"failed", res.SymbolsFailed,
			"written", res.RecordsWritten,
			"errors", strings.Join(res.Errors, "; "),
		)
		os.Exit(1)
	}
}

func reportPremiumIndex(client *binance.Client, symbols []string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, symbol := range symbols {
		pi, err := client.PremiumIndex(ctx, symbol)
		if err != nil {
			logger.Warn("premium index unavailable", "symbol", symbol, "err", err)
			continue
		}
		logger.Info("current funding",
			"symbol", symbol,
			"rate", pi.Rate,
			"markPrice", pi.MarkPrice,
			"asOf", pi.Timestamp,
		)
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
