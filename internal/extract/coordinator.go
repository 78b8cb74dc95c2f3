package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"harvester/internal/batch"
	"harvester/internal/fault"
	"harvester/internal/metrics"
	"harvester/internal/notify"
	"harvester/internal/ratelimit"
	"harvester/internal/retry"
	"harvester/internal/store"
)

// Coordinator fans a symbol list out over a bounded worker pool. The rate
// limiter and retry executor are shared so the whole run stays inside one
// upstream request budget; each worker gets its own sink and batch sizer.
type Coordinator struct {
	Series  Series
	Factory store.Factory
	Limiter *ratelimit.Limiter
	Retrier *retry.Executor

	// Bootstrap verifies the upstream is reachable before any per-symbol
	// work starts. A failure aborts the whole run.
	Bootstrap func(ctx context.Context) error

	Publisher notify.Publisher

	Workers     int
	BatchConfig batch.Config
	WorkerCfg   Config

	Log *slog.Logger

	now func() time.Time
}

// Run extracts every symbol and returns the aggregate. The error is non-nil
// only for run-level aborts (bootstrap failure); per-symbol failures live on
// the result.
func (c *Coordinator) Run(ctx context.Context, symbols []string) (*RunResult, error) {
	log := c.Log
	if log == nil {
		log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	pub := c.Publisher
	if pub == nil {
		pub = notify.Nop{}
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 4
	}

	started := c.now()
	res := &RunResult{Status: RunSucceeded, TotalSymbols: len(symbols)}

	// 1. Bootstrap check before spending any of the request budget.
	if c.Bootstrap != nil {
		if err := c.Bootstrap(ctx); err != nil {
			res.Status = RunFailed
			res.Duration = c.now().Sub(started)
			return res, fault.Bootstrap("bootstrap", err)
		}
	}
	log.Info("run starting",
		"series", c.Series.Name,
		"symbols", len(symbols),
		"workers", workers,
	)

	// 2. Single consumer owns the aggregate; workers only send.
	results := make(chan SymbolResult, len(symbols))
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for sr := range results {
			res.merge(sr)
			c.report(ctx, pub, sr, log)
		}
	}()

	// 3. Bounded pool. A cancelled context stops scheduling new symbols;
	// in-flight workers drain on their own.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			metrics.ActiveWorkers.Inc()
			defer metrics.ActiveWorkers.Dec()
			results <- c.runSymbol(gctx, symbol)
			return nil
		})
	}
	err := g.Wait()
	close(results)
	<-consumerDone

	res.Duration = c.now().Sub(started)
	metrics.RunDuration.Observe(res.Duration.Seconds())
	switch {
	case ctx.Err() != nil || err != nil:
		res.Status = RunInterrupted
	case res.SymbolsFailed > 0:
		res.Status = RunFailed
	}

	c.publishRun(ctx, pub, res, log)
	log.Info("run finished",
		"status", res.Status.String(),
		"processed", res.SymbolsProcessed,
		"failed", res.SymbolsFailed,
		"fetched", res.RecordsFetched,
		"written", res.RecordsWritten,
		"gapsFound", res.GapsFound,
		"gapsFilled", res.GapsFilled,
		"duration", res.Duration,
	)
	return res, nil
}

// runSymbol opens a dedicated sink, runs the worker, and guarantees the
// sink is closed whatever happens.
func (c *Coordinator) runSymbol(ctx context.Context, symbol string) SymbolResult {
	sink, err := c.Factory()
	if err != nil {
		return SymbolResult{Symbol: symbol, Err: fmt.Errorf("opening sink: %w", err)}
	}
	if err := sink.Connect(ctx); err != nil {
		return SymbolResult{Symbol: symbol, Err: fmt.Errorf("connecting sink: %w", err)}
	}
	defer sink.Close()
	if err := sink.EnsureIndexes(ctx); err != nil {
		return SymbolResult{Symbol: symbol, Err: fmt.Errorf("ensuring indexes: %w", err)}
	}

	sizer := batch.NewSizer(c.BatchConfig)
	w := NewWorker(c.Series, sink, c.Limiter, c.Retrier, sizer, c.WorkerCfg, c.Log)
	return w.Run(ctx, symbol)
}

// report logs and publishes one symbol outcome. Publish failures are logged
// and swallowed; notification is best-effort.
func (c *Coordinator) report(ctx context.Context, pub notify.Publisher, sr SymbolResult, log *slog.Logger) {
	if sr.Err != nil {
		metrics.SymbolsProcessed.WithLabelValues("failure").Inc()
		log.Warn("symbol failed", "symbol", sr.Symbol, "err", sr.Err)
	} else {
		metrics.SymbolsProcessed.WithLabelValues("success").Inc()
		log.Info("symbol done",
			"symbol", sr.Symbol,
			"fetched", sr.RecordsFetched,
			"written", sr.RecordsWritten,
			"gapsFound", sr.GapsFound,
			"gapsFilled", sr.GapsFilled,
			"duration", sr.Duration,
		)
	}

	ev := notify.SymbolEvent{
		Symbol:          sr.Symbol,
		Type:            string(c.Series.Collection.Series),
		Period:          string(c.Series.Collection.Interval),
		RecordsFetched:  sr.RecordsFetched,
		RecordsWritten:  sr.RecordsWritten,
		Success:         sr.Err == nil,
		DurationSeconds: sr.Duration.Seconds(),
		GapsFound:       sr.GapsFound,
		GapsFilled:      sr.GapsFilled,
		CompletedAt:     c.now(),
	}
	if sr.Err != nil {
		ev.Errors = []string{sr.Err.Error()}
	}
	if err := pub.PublishSymbol(ctx, ev); err != nil {
		log.Warn("symbol event publish failed", "symbol", sr.Symbol, "err", err)
	}
}

func (c *Coordinator) publishRun(ctx context.Context, pub notify.Publisher, res *RunResult, log *slog.Logger) {
	ev := notify.RunEvent{
		Status:           res.Status.String(),
		TotalSymbols:     res.TotalSymbols,
		SymbolsProcessed: res.SymbolsProcessed,
		SymbolsFailed:    res.SymbolsFailed,
		RecordsWritten:   res.RecordsWritten,
		GapsFilled:       res.GapsFilled,
		DurationSeconds:  res.Duration.Seconds(),
		CompletedAt:      c.now(),
	}
	if err := pub.PublishRun(ctx, ev); err != nil {
		log.Warn("run event publish failed", "err", err)
	}
}
