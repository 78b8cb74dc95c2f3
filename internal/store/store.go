// Package store defines the storage contract the extraction engine writes
// through, plus the SQLite and Parquet backends implementing it. Backends
// are variants selected at construction time; every worker obtains its own
// Sink instance so no driver state is shared across goroutines.
package store

import (
	"context"
	"fmt"
	"time"

	"harvester/internal/domain"
	"harvester/internal/gaps"
)

// Collection names one stored series: a series type plus, for candles, the
// interval that namespaces it.
type Collection struct {
	Series   domain.SeriesType
	Interval domain.Interval // set only for candles
}

// Candles returns the candle collection for an interval.
func Candles(iv domain.Interval) Collection {
	return Collection{Series: domain.SeriesCandles, Interval: iv}
}

// Trades is the aggregated-trades collection.
var Trades = Collection{Series: domain.SeriesTrades}

// Funding is the funding-rate collection.
var Funding = Collection{Series: domain.SeriesFunding}

func (c Collection) String() string {
	if c.Series == domain.SeriesCandles && c.Interval != "" {
		return fmt.Sprintf("%s_%s", c.Series, c.Interval)
	}
	return string(c.Series)
}

// Sink is the capability set every storage backend provides. All ranges are
// half-open [start, end).
type Sink interface {
	// Connect establishes the backend connection or data directory.
	Connect(ctx context.Context) error
	// Close releases the connection.
	Close() error

	// Write persists records, deduplicating on the collection's natural
	// key, and returns the number of records written.
	Write(ctx context.Context, col Collection, records []domain.Record) (int, error)
	// WriteBatch is Write in chunks of batchSize.
	WriteBatch(ctx context.Context, col Collection, records []domain.Record, batchSize int) (int, error)

	// QueryLatest returns up to limit records for a symbol, newest first.
	QueryLatest(ctx context.Context, col Collection, symbol string, limit int) ([]domain.Record, error)
	// Timestamps returns the stored record timestamps for a symbol within
	// [start, end), ascending.
	Timestamps(ctx context.Context, col Collection, symbol string, start, end time.Time) ([]time.Time, error)
	// FindGaps reports missing sub-ranges for a symbol within [start, end)
	// at the given cadence. Backends delegate to the gaps package over
	// their stored timestamps, so backend-side and in-core detection agree.
	FindGaps(ctx context.Context, col Collection, symbol string, start, end time.Time, interval, tolerance time.Duration) ([]gaps.Gap, error)

	// DeleteRange removes a symbol's records within [start, end) and
	// returns how many were deleted.
	DeleteRange(ctx context.Context, col Collection, symbol string, start, end time.Time) (int64, error)
	// EnsureIndexes creates tables, indexes, or directory layout.
	EnsureIndexes(ctx context.Context) error
}

// Factory produces a fresh Sink per caller. The extraction coordinator
// hands one to each worker.
type Factory func() (Sink, error)

// Backend names for config/flag selection.
const (
	BackendSQLite  = "sqlite"
	BackendParquet = "parquet"
)

// FactoryFor returns a Factory for the named backend.
func FactoryFor(backend, sqlitePath, dataDir string) (Factory, error) {
	switch backend {
	case BackendSQLite:
		if sqlitePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return func() (Sink, error) { return NewSQLite(sqlitePath), nil }, nil
	case BackendParquet:
		if dataDir == "" {
			return nil, fmt.Errorf("parquet backend requires a data directory")
		}
		return func() (Sink, error) { return NewParquet(dataDir), nil }, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// LatestTimestamp returns the newest stored timestamp for a symbol, or a
// zero time when the collection holds nothing for it.
func LatestTimestamp(ctx context.Context, s Sink, col Collection, symbol string) (time.Time, error) {
	recs, err := s.QueryLatest(ctx, col, symbol, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(recs) == 0 {
		return time.Time{}, nil
	}
	return recs[0].RecordTimestamp(), nil
}
