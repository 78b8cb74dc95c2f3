package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"harvester/internal/batch"
	"harvester/internal/domain"
	"harvester/internal/fault"
	"harvester/internal/notify"
	"harvester/internal/ratelimit"
	"harvester/internal/retry"
	"harvester/internal/store"
)

// recordingPublisher captures events for assertions.
type recordingPublisher struct {
	mu      sync.Mutex
	symbols []notify.SymbolEvent
	runs    []notify.RunEvent
}

var _ notify.Publisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) PublishSymbol(_ context.Context, ev notify.SymbolEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols = append(p.symbols, ev)
	return nil
}

func (p *recordingPublisher) PublishRun(_ context.Context, ev notify.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

// poisonedSeries fails fetches for the named symbol and serves hourly
// candles for everyone else.
func poisonedSeries(bad string) Series {
	good, _ := candleSeries(time.Hour, 1000, nil)
	return Series{
		Name:          good.Name,
		Collection:    good.Collection,
		Cadence:       good.Cadence,
		MaxPerRequest: good.MaxPerRequest,
		Fetch: func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Record, error) {
			if symbol == bad {
				return nil, fault.Validation("klines", errors.New("unknown symbol"))
			}
			return good.Fetch(ctx, symbol, start, end)
		},
	}
}

func newTestCoordinator(series Series, pub notify.Publisher) *Coordinator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Coordinator{
		Series:      series,
		Factory:     func() (store.Sink, error) { return newFakeSink(), nil },
		Limiter:     ratelimit.New(100000, time.Minute),
		Retrier:     retry.New(log),
		Publisher:   pub,
		Workers:     2,
		BatchConfig: batch.Config{},
		WorkerCfg: Config{
			DefaultStart: time.Now().Add(-6 * time.Hour),
		},
		Log: log,
	}
}

func TestCoordinatorIsolatesSymbolFailures(t *testing.T) {
	c := newTestCoordinator(poisonedSeries("BADUSDT"), nil)

	res, err := c.Run(context.Background(), []string{"BTCUSDT", "BADUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SymbolsProcessed != 2 {
		t.Errorf("SymbolsProcessed = %d, want 2", res.SymbolsProcessed)
	}
	if res.SymbolsFailed != 1 {
		t.Errorf("SymbolsFailed = %d, want 1", res.SymbolsFailed)
	}
	if res.Status != RunFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
	if res.Success() {
		t.Error("Success() = true with a failed symbol")
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "BADUSDT:") {
		t.Errorf("Errors = %v, want one entry for BADUSDT", res.Errors)
	}
	if res.RecordsWritten == 0 {
		t.Error("healthy symbols should still have written records")
	}
}

func TestCoordinatorBootstrapAborts(t *testing.T) {
	series, calls := candleSeries(time.Hour, 1000, nil)
	c := newTestCoordinator(series, nil)
	c.Bootstrap = func(context.Context) error {
		return errors.New("upstream unreachable")
	}

	res, err := c.Run(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err == nil {
		t.Fatal("expected a bootstrap error")
	}
	if fault.KindOf(err) != fault.KindBootstrap {
		t.Errorf("error kind = %v, want bootstrap", fault.KindOf(err))
	}
	if res.Status != RunFailed {
		t.Errorf("Status = %v, want failed", res.Status)
	}
	if *calls != 0 {
		t.Errorf("upstream called %d times after bootstrap failure, want 0", *calls)
	}
}

func TestCoordinatorPublishesEvents(t *testing.T) {
	series, _ := candleSeries(time.Hour, 1000, nil)
	pub := &recordingPublisher{}
	c := newTestCoordinator(series, pub)

	res, err := c.Run(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success() {
		t.Fatalf("run failed: %v", res.Errors)
	}

	if len(pub.symbols) != 2 {
		t.Fatalf("published %d symbol events, want 2", len(pub.symbols))
	}
	for _, ev := range pub.symbols {
		if !ev.Success {
			t.Errorf("symbol event for %s marked failed", ev.Symbol)
		}
		if ev.Type != "candles" || ev.Period != "1h" {
			t.Errorf("symbol event type/period = %s/%s, want candles/1h", ev.Type, ev.Period)
		}
		if ev.RecordsWritten == 0 {
			t.Errorf("symbol event for %s has zero records written", ev.Symbol)
		}
	}
	if len(pub.runs) != 1 {
		t.Fatalf("published %d run events, want 1", len(pub.runs))
	}
	if pub.runs[0].Status != "succeeded" {
		t.Errorf("run event status = %q, want succeeded", pub.runs[0].Status)
	}
}

func TestCoordinatorInterrupted(t *testing.T) {
	series, _ := candleSeries(time.Hour, 1000, nil)
	c := newTestCoordinator(series, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Run(ctx, []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != RunInterrupted {
		t.Errorf("Status = %v, want interrupted", res.Status)
	}
}

func TestCoordinatorSinkFactoryFailure(t *testing.T) {
	series, _ := candleSeries(time.Hour, 1000, nil)
	c := newTestCoordinator(series, nil)
	c.Factory = func() (store.Sink, error) {
		return nil, errors.New("disk full")
	}

	res, err := c.Run(context.Background(), []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.SymbolsFailed != 1 {
		t.Errorf("SymbolsFailed = %d, want 1", res.SymbolsFailed)
	}
}
