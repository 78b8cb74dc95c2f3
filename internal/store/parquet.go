package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"harvester/internal/domain"
	"harvester/internal/fault"
	"harvester/internal/gaps"
)

// Compile-time interface check.
var _ Sink = (*Parquet)(nil)

// Parquet is the file backend. Records are laid out one file per
// collection, symbol, and year:
//
//	<DataDir>/<collection>/<SYMBOL>/<YYYY>.parquet
//
// Writes merge with the existing file contents and deduplicate on the
// collection's natural key.
type Parquet struct {
	DataDir string
}

// NewParquet creates a Parquet sink rooted at dataDir.
func NewParquet(dataDir string) *Parquet {
	return &Parquet{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// CandleRow is the Parquet schema for candle data.
type CandleRow struct {
	Symbol      string  `parquet:"symbol"`
	Interval    string  `parquet:"interval"`
	OpenTime    int64   `parquet:"open_time,timestamp(millisecond)"` // Unix ms
	Open        float64 `parquet:"open"`
	High        float64 `parquet:"high"`
	Low         float64 `parquet:"low"`
	Close       float64 `parquet:"close"`
	Volume      float64 `parquet:"volume"`
	QuoteVolume float64 `parquet:"quote_volume"`
	TradeCount  int64   `parquet:"trade_count"`
}

// TradeRow is the Parquet schema for aggregated trades.
type TradeRow struct {
	Symbol    string  `parquet:"symbol"`
	TradeID   int64   `parquet:"trade_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Price     float64 `parquet:"price"`
	Quantity  float64 `parquet:"quantity"`
	Maker     bool    `parquet:"maker"`
}

// FundingRow is the Parquet schema for funding settlements.
type FundingRow struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Rate      float64 `parquet:"rate"`
	MarkPrice float64 `parquet:"mark_price"`
}

// ---------------------------------------------------------------------------
// Sink implementation
// ---------------------------------------------------------------------------

// Connect ensures the data directory exists.
func (p *Parquet) Connect(_ context.Context) error {
	if err := os.MkdirAll(p.DataDir, 0o755); err != nil {
		return fault.StorageConnection("parquet.connect", err)
	}
	return nil
}

// Close is a no-op; files are closed per operation.
func (p *Parquet) Close() error { return nil }

// EnsureIndexes creates the collection directory layout. Parquet has no
// indexes; the directory-per-symbol layout is the access path.
func (p *Parquet) EnsureIndexes(_ context.Context) error {
	for _, col := range []string{"trades", "funding"} {
		if err := os.MkdirAll(filepath.Join(p.DataDir, col), 0o755); err != nil {
			return fault.StorageConnection("parquet.ensure", err)
		}
	}
	return nil
}

// Write merges records into their symbol/year files, deduplicating on the
// natural key, and returns the number of records accepted.
func (p *Parquet) Write(_ context.Context, col Collection, records []domain.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]domain.Record)
	for _, r := range records {
		k := key{symbol: r.RecordSymbol(), year: r.RecordTimestamp().Year()}
		groups[k] = append(groups[k], r)
	}

	for k, group := range groups {
		path := p.filePath(col, k.symbol, k.year)
		if err := p.mergeFile(col, path, group); err != nil {
			return 0, fmt.Errorf("writing %s for %s/%d: %w", col, k.symbol, k.year, err)
		}
	}
	return len(records), nil
}

// WriteBatch writes records in chunks of batchSize.
func (p *Parquet) WriteBatch(ctx context.Context, col Collection, records []domain.Record, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = len(records)
	}
	total := 0
	for i := 0; i < len(records); i += batchSize {
		end := min(i+batchSize, len(records))
		n, err := p.Write(ctx, col, records[i:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// QueryLatest returns up to limit records for a symbol, newest first.
func (p *Parquet) QueryLatest(_ context.Context, col Collection, symbol string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 1
	}

	years, err := p.listYears(col, symbol)
	if err != nil {
		return nil, err
	}

	var out []domain.Record
	// Newest year files first; stop once limit is satisfied.
	for i := len(years) - 1; i >= 0 && len(out) < limit; i-- {
		recs, err := p.readFile(col, p.filePath(col, symbol, years[i]))
		if err != nil {
			continue
		}
		sort.Slice(recs, func(a, b int) bool {
			return recs[a].RecordTimestamp().After(recs[b].RecordTimestamp())
		})
		for _, r := range recs {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Timestamps returns stored timestamps for a symbol in [start, end),
// ascending.
func (p *Parquet) Timestamps(_ context.Context, col Collection, symbol string, start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for year := start.Year(); year <= end.Year(); year++ {
		recs, err := p.readFile(col, p.filePath(col, symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range recs {
			ts := r.RecordTimestamp()
			if !ts.Before(start) && ts.Before(end) {
				out = append(out, ts)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// FindGaps runs the shared gap detector over stored timestamps.
func (p *Parquet) FindGaps(ctx context.Context, col Collection, symbol string, start, end time.Time, interval, tolerance time.Duration) ([]gaps.Gap, error) {
	ts, err := p.Timestamps(ctx, col, symbol, start, end)
	if err != nil {
		return nil, err
	}
	return gaps.Find(ts, interval, start, end, tolerance), nil
}

// DeleteRange rewrites each intersecting year file without the records in
// [start, end).
func (p *Parquet) DeleteRange(_ context.Context, col Collection, symbol string, start, end time.Time) (int64, error) {
	var deleted int64
	for year := start.Year(); year <= end.Year(); year++ {
		path := p.filePath(col, symbol, year)
		recs, err := p.readFile(col, path)
		if err != nil {
			continue
		}

		kept := recs[:0]
		for _, r := range recs {
			ts := r.RecordTimestamp()
			if !ts.Before(start) && ts.Before(end) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		if int64(len(recs)-len(kept)) == 0 {
			continue
		}

		if len(kept) == 0 {
			if err := os.Remove(path); err != nil {
				return deleted, fmt.Errorf("removing emptied %s: %w", path, err)
			}
			continue
		}
		if err := p.writeFile(col, path, kept); err != nil {
			return deleted, fmt.Errorf("rewriting %s: %w", path, err)
		}
	}
	return deleted, nil
}

// ---------------------------------------------------------------------------
// File helpers
// ---------------------------------------------------------------------------

// filePath returns the parquet file for a collection, symbol, and year.
func (p *Parquet) filePath(col Collection, symbol string, year int) string {
	return filepath.Join(p.DataDir, col.String(), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// listYears returns the years that have files for a symbol, ascending.
func (p *Parquet) listYears(col Collection, symbol string) ([]int, error) {
	dir := filepath.Join(p.DataDir, col.String(), strings.ToUpper(symbol))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		var y int
		if _, err := fmt.Sscanf(e.Name(), "%d.parquet", &y); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// mergeFile merges incoming records into path, deduplicating on the
// collection's natural key with incoming records winning.
func (p *Parquet) mergeFile(col Collection, path string, incoming []domain.Record) error {
	existing, _ := p.readFile(col, path)

	seen := make(map[any]domain.Record, len(existing)+len(incoming))
	order := make([]any, 0, len(existing)+len(incoming))
	for _, r := range append(existing, incoming...) {
		k := recordKey(r)
		if _, ok := seen[k]; !ok {
			order = append(order, k)
		}
		seen[k] = r
	}

	merged := make([]domain.Record, 0, len(seen))
	for _, k := range order {
		merged = append(merged, seen[k])
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].RecordTimestamp().Before(merged[j].RecordTimestamp())
	})
	return p.writeFile(col, path, merged)
}

// recordKey is the dedup key within one symbol file.
func recordKey(r domain.Record) any {
	switch rec := r.(type) {
	case domain.Trade:
		return rec.ID
	default:
		return r.RecordTimestamp().UnixMilli()
	}
}

// readFile loads a collection file back into domain records.
func (p *Parquet) readFile(col Collection, path string) ([]domain.Record, error) {
	switch col.Series {
	case domain.SeriesCandles:
		rows, err := parquet.ReadFile[CandleRow](path)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Record, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.Candle{
				Symbol:      r.Symbol,
				Interval:    domain.Interval(r.Interval),
				OpenTime:    time.UnixMilli(r.OpenTime).UTC(),
				Open:        r.Open,
				High:        r.High,
				Low:         r.Low,
				Close:       r.Close,
				Volume:      r.Volume,
				QuoteVolume: r.QuoteVolume,
				TradeCount:  r.TradeCount,
			})
		}
		return out, nil

	case domain.SeriesTrades:
		rows, err := parquet.ReadFile[TradeRow](path)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Record, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.Trade{
				Symbol:    r.Symbol,
				ID:        r.TradeID,
				Timestamp: time.UnixMilli(r.Timestamp).UTC(),
				Price:     r.Price,
				Quantity:  r.Quantity,
				Maker:     r.Maker,
			})
		}
		return out, nil

	case domain.SeriesFunding:
		rows, err := parquet.ReadFile[FundingRow](path)
		if err != nil {
			return nil, err
		}
		out := make([]domain.Record, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.FundingRate{
				Symbol:    r.Symbol,
				Timestamp: time.UnixMilli(r.Timestamp).UTC(),
				Rate:      r.Rate,
				MarkPrice: r.MarkPrice,
			})
		}
		return out, nil
	}
	return nil, fault.Validation("parquet.read", fmt.Errorf("unknown collection %s", col))
}

// writeFile persists domain records as the collection's row schema.
func (p *Parquet) writeFile(col Collection, path string, records []domain.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	switch col.Series {
	case domain.SeriesCandles:
		rows := make([]CandleRow, 0, len(records))
		for _, r := range records {
			c, ok := r.(domain.Candle)
			if !ok {
				return fault.Validation("parquet.write", fmt.Errorf("record type %T in candle collection", r))
			}
			rows = append(rows, CandleRow{
				Symbol:      c.Symbol,
				Interval:    string(c.Interval),
				OpenTime:    c.OpenTime.UnixMilli(),
				Open:        c.Open,
				High:        c.High,
				Low:         c.Low,
				Close:       c.Close,
				Volume:      c.Volume,
				QuoteVolume: c.QuoteVolume,
				TradeCount:  c.TradeCount,
			})
		}
		return parquet.WriteFile(path, rows)

	case domain.SeriesTrades:
		rows := make([]TradeRow, 0, len(records))
		for _, r := range records {
			t, ok := r.(domain.Trade)
			if !ok {
				return fault.Validation("parquet.write", fmt.Errorf("record type %T in trade collection", r))
			}
			rows = append(rows, TradeRow{
				Symbol:    t.Symbol,
				TradeID:   t.ID,
				Timestamp: t.Timestamp.UnixMilli(),
				Price:     t.Price,
				Quantity:  t.Quantity,
				Maker:     t.Maker,
			})
		}
		return parquet.WriteFile(path, rows)

	case domain.SeriesFunding:
		rows := make([]FundingRow, 0, len(records))
		for _, r := range records {
			f, ok := r.(domain.FundingRate)
			if !ok {
				return fault.Validation("parquet.write", fmt.Errorf("record type %T in funding collection", r))
			}
			rows = append(rows, FundingRow{
				Symbol:    f.Symbol,
				Timestamp: f.Timestamp.UnixMilli(),
				Rate:      f.Rate,
				MarkPrice: f.MarkPrice,
			})
		}
		return parquet.WriteFile(path, rows)
	}
	return fault.Validation("parquet.write", fmt.Errorf("unknown collection %s", col))
}
