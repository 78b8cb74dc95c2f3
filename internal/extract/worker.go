package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"harvester/internal/batch"
	"harvester/internal/domain"
	"harvester/internal/gaps"
	"harvester/internal/metrics"
	"harvester/internal/ratelimit"
	"harvester/internal/retry"
	"harvester/internal/store"
	"harvester/internal/window"
)

// Config tunes extraction workers. All fields apply uniformly to every
// symbol in a run.
type Config struct {
	// Overlap is re-fetched behind the cursor to absorb late records.
	Overlap time.Duration
	// EndBuffer keeps extraction clear of still-open upstream buckets.
	EndBuffer time.Duration
	// MaxCatchup bounds historical backfill per incremental run.
	MaxCatchup time.Duration
	// DefaultStart seeds extraction for symbols with no stored data.
	DefaultStart time.Time

	// GapTolerance absorbs sub-cadence jitter during gap detection.
	GapTolerance time.Duration
	// HealEnabled turns on the gap-heal phase.
	HealEnabled bool
	// HealChunk bounds a single heal request's wall-clock span (default 7d).
	HealChunk time.Duration
	// HealDelayMax caps the randomized pause between heal chunks
	// (default 2s).
	HealDelayMax time.Duration

	// RetryPolicy wraps every upstream and storage call.
	RetryPolicy retry.Policy

	// DryRun fetches but never writes.
	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.Overlap <= 0 {
		c.Overlap = 30 * time.Minute
	}
	if c.EndBuffer <= 0 {
		c.EndBuffer = 5 * time.Minute
	}
	if c.MaxCatchup <= 0 {
		c.MaxCatchup = 30 * 24 * time.Hour
	}
	if c.DefaultStart.IsZero() {
		c.DefaultStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.GapTolerance <= 0 {
		c.GapTolerance = time.Minute
	}
	if c.HealChunk <= 0 {
		c.HealChunk = 7 * 24 * time.Hour
	}
	if c.HealDelayMax <= 0 {
		c.HealDelayMax = 2 * time.Second
	}
	if c.RetryPolicy.MaxRetries == 0 && c.RetryPolicy.BaseDelay == 0 {
		c.RetryPolicy = retry.DefaultPolicy()
	}
	return c
}

// Worker extracts one symbol's series end-to-end: window planning, chunked
// fetch, adaptive persist, gap check, and gap heal. Each worker owns its
// sink and sizer exclusively; the limiter and retrier are shared.
type Worker struct {
	series  Series
	sink    store.Sink
	limiter *ratelimit.Limiter
	retrier *retry.Executor
	sizer   *batch.Sizer
	cfg     Config
	log     *slog.Logger

	now       func() time.Time
	healPause func(ctx context.Context) error
}

// NewWorker wires a worker for one series and sink.
func NewWorker(series Series, sink store.Sink, limiter *ratelimit.Limiter, retrier *retry.Executor, sizer *batch.Sizer, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	w := &Worker{
		series:  series,
		sink:    sink,
		limiter: limiter,
		retrier: retrier,
		sizer:   sizer,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
	w.healPause = func(ctx context.Context) error {
		d := time.Duration(rand.Int63n(int64(cfg.HealDelayMax)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
	return w
}

// Run extracts one symbol. Failures are captured on the result rather than
// returned, so one symbol can never abort its siblings.
func (w *Worker) Run(ctx context.Context, symbol string) (res SymbolResult) {
	res = SymbolResult{Symbol: symbol}
	log := w.log.With("symbol", symbol, "series", w.series.Name)
	started := w.now()
	defer func() {
		res.Duration = w.now().Sub(started)
		metrics.SymbolDuration.Observe(res.Duration.Seconds())
	}()

	// 1. Determine the extraction window from the last persisted record.
	last, err := retry.DoValue(w.retrier, ctx, w.series.Name+".latest", w.cfg.RetryPolicy, func() (time.Time, error) {
		return store.LatestTimestamp(ctx, w.sink, w.series.Collection, symbol)
	})
	if err != nil {
		res.Err = fmt.Errorf("determining window: %w", err)
		return res
	}
	if last.IsZero() {
		last = w.cfg.DefaultStart
		log.Info("no stored data, starting from default", "start", last)
	}

	planner := &window.Planner{
		Overlap:    w.cfg.Overlap,
		MaxCatchup: w.cfg.MaxCatchup,
		EndBuffer:  w.cfg.EndBuffer,
		Log:        log,
	}
	win, ok := planner.Plan(last, w.now())
	if !ok {
		log.Info("no new data to extract")
		return res
	}

	// 2. Fetch and persist the window chunk by chunk.
	if err := w.extractRange(ctx, symbol, win, &res); err != nil {
		res.Err = err
		return res
	}

	// 3. Gap check over what the sink now holds for the window. Series
	// without a fixed cadence (trades) skip this phase, as do dry runs,
	// which wrote nothing to check.
	if w.series.Cadence <= 0 || w.cfg.DryRun {
		return res
	}
	found, err := retry.DoValue(w.retrier, ctx, w.series.Name+".gapcheck", w.cfg.RetryPolicy, func() ([]gaps.Gap, error) {
		return w.sink.FindGaps(ctx, w.series.Collection, symbol, win.Start, win.End, w.series.Cadence, w.cfg.GapTolerance)
	})
	if err != nil {
		// The extracted data is already durable; a failed scan only costs
		// this run's healing pass.
		log.Warn("gap check failed, skipping heal", "err", err)
		return res
	}
	res.GapsFound = len(found)
	metrics.GapsFound.Add(float64(len(found)))
	if len(found) == 0 || !w.cfg.HealEnabled {
		return res
	}

	// 4. Heal each gap independently.
	w.healGaps(ctx, symbol, found, &res, log)
	return res
}

// extractRange walks [win.Start, win.End) in bounded chunks, fetching
// through the shared rate limiter and retry executor and persisting with
// the adaptive batch size. Counts accumulate on res.
func (w *Worker) extractRange(ctx context.Context, symbol string, win window.Range, res *SymbolResult) error {
	chunk := w.liveChunk()
	cursor := win.Start
	for cursor.Before(win.End) {
		fetchEnd := win.End
		if next := cursor.Add(chunk); next.Before(fetchEnd) {
			fetchEnd = next
		}

		if err := w.limiter.Acquire(ctx); err != nil {
			return err
		}
		recs, err := retry.DoValue(w.retrier, ctx, w.series.Name+".fetch", w.cfg.RetryPolicy, func() ([]domain.Record, error) {
			return w.series.Fetch(ctx, symbol, cursor, fetchEnd)
		})
		if err != nil {
			metrics.UpstreamCalls.WithLabelValues("error").Inc()
			return fmt.Errorf("fetching [%s, %s): %w",
				cursor.Format(time.RFC3339), fetchEnd.Format(time.RFC3339), err)
		}
		metrics.UpstreamCalls.WithLabelValues("ok").Inc()

		if len(recs) == 0 {
			// The upstream has nothing more here; end the phase. Interior
			// holes are the gap-heal pass's job, not this loop's.
			break
		}
		res.RecordsFetched += len(recs)
		metrics.RecordsFetched.Add(float64(len(recs)))

		written, err := w.persist(ctx, recs)
		res.RecordsWritten += written
		if err != nil {
			return fmt.Errorf("persisting %d records: %w", len(recs), err)
		}

		// Advance past the last record; fall back to the chunk boundary if
		// that would not make progress.
		next := recs[len(recs)-1].RecordTimestamp().Add(w.cursorStep())
		if !next.After(cursor) {
			next = fetchEnd
		}
		cursor = next
	}
	return nil
}

// persist writes records in adaptive batches, recording every write
// outcome back into the sizer.
func (w *Worker) persist(ctx context.Context, recs []domain.Record) (int, error) {
	if w.cfg.DryRun {
		return 0, nil
	}

	written := 0
	for i := 0; i < len(recs); {
		size := w.sizer.Size()
		end := min(i+size, len(recs))

		// The count from the last attempt is kept even when retries are
		// exhausted, so rows the sink did persist still show up in totals.
		var n int
		writeStart := time.Now()
		err := w.retrier.Do(ctx, w.series.Name+".write", w.cfg.RetryPolicy, func() error {
			var werr error
			n, werr = w.sink.Write(ctx, w.series.Collection, recs[i:end])
			return werr
		})
		w.sizer.Record(err == nil, time.Since(writeStart))
		written += n
		if err != nil {
			return written, err
		}
		metrics.RecordsWritten.Add(float64(n))
		i = end
	}
	return written, nil
}

// healGaps re-extracts each gap in bounded chunks. A failed chunk is
// logged and counted but never aborts the remaining chunks or the symbol.
func (w *Worker) healGaps(ctx context.Context, symbol string, found []gaps.Gap, res *SymbolResult, log *slog.Logger) {
	for _, g := range found {
		healed := true
		for _, c := range window.Chunk(g.Start, g.End, w.cfg.HealChunk) {
			if ctx.Err() != nil {
				return
			}
			if err := w.extractRange(ctx, symbol, c, res); err != nil {
				healed = false
				log.Warn("gap chunk heal failed",
					"gapStart", c.Start,
					"gapEnd", c.End,
					"err", err,
				)
				continue
			}
			// Spread heal traffic out so it does not burst.
			if err := w.healPause(ctx); err != nil {
				return
			}
		}
		if healed {
			res.GapsFilled++
			metrics.GapsFilled.Inc()
		}
	}
}

// liveChunk bounds one fetch to the upstream per-request record cap, or to
// the heal chunk for series without a fixed cadence.
func (w *Worker) liveChunk() time.Duration {
	if w.series.Cadence > 0 && w.series.MaxPerRequest > 0 {
		return w.series.Cadence * time.Duration(w.series.MaxPerRequest)
	}
	return w.cfg.HealChunk
}

// cursorStep is how far past the last fetched record the cursor advances.
func (w *Worker) cursorStep() time.Duration {
	if w.series.Cadence > 0 {
		return w.series.Cadence
	}
	return time.Millisecond
}
