package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"harvester/internal/domain"
)

func testCandles(symbol string, iv domain.Interval, start time.Time, n int) []domain.Record {
	out := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.Candle{
			Symbol:   symbol,
			Interval: iv,
			OpenTime: start.Add(time.Duration(i) * iv.Duration()),
			Open:     100 + float64(i),
			High:     101 + float64(i),
			Low:      99 + float64(i),
			Close:    100.5 + float64(i),
			Volume:   1000,
		})
	}
	return out
}

// openSinks returns one connected sink per backend, with cleanup registered.
func openSinks(t *testing.T) map[string]Sink {
	t.Helper()
	ctx := context.Background()

	sq := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	pq := NewParquet(t.TempDir())

	sinks := map[string]Sink{"sqlite": sq, "parquet": pq}
	for name, s := range sinks {
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("%s Connect: %v", name, err)
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			t.Fatalf("%s EnsureIndexes: %v", name, err)
		}
		t.Cleanup(func() { s.Close() })
	}
	return sinks
}

func TestWriteAndQueryLatest(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	col := Candles("1h")

	for name, s := range openSinks(t) {
		recs := testCandles("BTCUSDT", "1h", start, 5)
		n, err := s.Write(ctx, col, recs)
		if err != nil {
			t.Fatalf("%s Write: %v", name, err)
		}
		if n != 5 {
			t.Errorf("%s Write = %d, want 5", name, n)
		}

		got, err := s.QueryLatest(ctx, col, "BTCUSDT", 2)
		if err != nil {
			t.Fatalf("%s QueryLatest: %v", name, err)
		}
		if len(got) != 2 {
			t.Fatalf("%s QueryLatest returned %d records, want 2", name, len(got))
		}
		if want := start.Add(4 * time.Hour); !got[0].RecordTimestamp().Equal(want) {
			t.Errorf("%s newest timestamp = %v, want %v", name, got[0].RecordTimestamp(), want)
		}
		if got[0].RecordTimestamp().Before(got[1].RecordTimestamp()) {
			t.Errorf("%s QueryLatest not ordered newest first", name)
		}
	}
}

func TestWriteDeduplicates(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	col := Candles("1h")

	for name, s := range openSinks(t) {
		recs := testCandles("ETHUSDT", "1h", start, 3)
		if _, err := s.Write(ctx, col, recs); err != nil {
			t.Fatalf("%s Write: %v", name, err)
		}
		// Overlapping rewrite: same 3 plus 2 new.
		if _, err := s.Write(ctx, col, testCandles("ETHUSDT", "1h", start, 5)); err != nil {
			t.Fatalf("%s Write overlap: %v", name, err)
		}

		ts, err := s.Timestamps(ctx, col, "ETHUSDT", start, start.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("%s Timestamps: %v", name, err)
		}
		if len(ts) != 5 {
			t.Errorf("%s stored %d timestamps after overlapping writes, want 5", name, len(ts))
		}
	}
}

func TestWriteBatchChunks(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	col := Candles("1m")

	for name, s := range openSinks(t) {
		recs := testCandles("BTCUSDT", "1m", start, 23)
		n, err := s.WriteBatch(ctx, col, recs, 10)
		if err != nil {
			t.Fatalf("%s WriteBatch: %v", name, err)
		}
		if n != 23 {
			t.Errorf("%s WriteBatch = %d, want 23", name, n)
		}
	}
}

func TestFindGapsMatchesDetector(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	col := Candles("1h")
	iv := time.Hour

	for name, s := range openSinks(t) {
		// Candles at hours 0,1,3 of [0,5): expect gaps [2,3) and [4,5).
		var recs []domain.Record
		for _, h := range []int{0, 1, 3} {
			recs = append(recs, domain.Candle{
				Symbol: "BTCUSDT", Interval: "1h",
				OpenTime: start.Add(time.Duration(h) * iv),
				Open:     1, High: 1, Low: 1, Close: 1,
			})
		}
		if _, err := s.Write(ctx, col, recs); err != nil {
			t.Fatalf("%s Write: %v", name, err)
		}

		got, err := s.FindGaps(ctx, col, "BTCUSDT", start, start.Add(5*iv), iv, 0)
		if err != nil {
			t.Fatalf("%s FindGaps: %v", name, err)
		}
		if len(got) != 2 {
			t.Fatalf("%s FindGaps = %v, want 2 gaps", name, got)
		}
		if !got[0].Start.Equal(start.Add(2*iv)) || !got[0].End.Equal(start.Add(3*iv)) {
			t.Errorf("%s first gap = %+v, want [2h, 3h)", name, got[0])
		}
		if !got[1].Start.Equal(start.Add(4*iv)) || !got[1].End.Equal(start.Add(5*iv)) {
			t.Errorf("%s second gap = %+v, want [4h, 5h)", name, got[1])
		}
	}
}

func TestDeleteRange(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	col := Candles("1h")

	for name, s := range openSinks(t) {
		if _, err := s.Write(ctx, col, testCandles("BTCUSDT", "1h", start, 6)); err != nil {
			t.Fatalf("%s Write: %v", name, err)
		}

		// Delete hours [2, 4).
		n, err := s.DeleteRange(ctx, col, "BTCUSDT", start.Add(2*time.Hour), start.Add(4*time.Hour))
		if err != nil {
			t.Fatalf("%s DeleteRange: %v", name, err)
		}
		if n != 2 {
			t.Errorf("%s DeleteRange = %d, want 2", name, n)
		}

		ts, err := s.Timestamps(ctx, col, "BTCUSDT", start, start.Add(6*time.Hour))
		if err != nil {
			t.Fatalf("%s Timestamps: %v", name, err)
		}
		if len(ts) != 4 {
			t.Errorf("%s has %d records after delete, want 4", name, len(ts))
		}
	}
}

func TestTradesAndFundingRoundtrip(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, s := range openSinks(t) {
		trades := []domain.Record{
			domain.Trade{Symbol: "BTCUSDT", ID: 101, Timestamp: ts, Price: 60000, Quantity: 0.5, Maker: true},
			domain.Trade{Symbol: "BTCUSDT", ID: 102, Timestamp: ts.Add(time.Second), Price: 60001, Quantity: 0.2},
		}
		if _, err := s.Write(ctx, Trades, trades); err != nil {
			t.Fatalf("%s Write trades: %v", name, err)
		}

		gotTrades, err := s.QueryLatest(ctx, Trades, "BTCUSDT", 10)
		if err != nil {
			t.Fatalf("%s QueryLatest trades: %v", name, err)
		}
		if len(gotTrades) != 2 {
			t.Fatalf("%s stored %d trades, want 2", name, len(gotTrades))
		}
		newest, ok := gotTrades[0].(domain.Trade)
		if !ok {
			t.Fatalf("%s QueryLatest trades returned %T", name, gotTrades[0])
		}
		if newest.ID != 102 || newest.Price != 60001 {
			t.Errorf("%s newest trade = %+v, want ID 102 at 60001", name, newest)
		}

		funding := []domain.Record{
			domain.FundingRate{Symbol: "BTCUSDT", Timestamp: ts, Rate: 0.0001, MarkPrice: 60000},
		}
		if _, err := s.Write(ctx, Funding, funding); err != nil {
			t.Fatalf("%s Write funding: %v", name, err)
		}
		gotFunding, err := s.QueryLatest(ctx, Funding, "BTCUSDT", 1)
		if err != nil {
			t.Fatalf("%s QueryLatest funding: %v", name, err)
		}
		if len(gotFunding) != 1 {
			t.Fatalf("%s stored %d funding rates, want 1", name, len(gotFunding))
		}
		fr, ok := gotFunding[0].(domain.FundingRate)
		if !ok {
			t.Fatalf("%s QueryLatest funding returned %T", name, gotFunding[0])
		}
		if fr.Rate != 0.0001 {
			t.Errorf("%s funding rate = %v, want 0.0001", name, fr.Rate)
		}
	}
}

func TestLatestTimestampEmptyCollection(t *testing.T) {
	ctx := context.Background()

	for name, s := range openSinks(t) {
		ts, err := LatestTimestamp(ctx, s, Candles("1h"), "NOPEUSDT")
		if err != nil {
			t.Fatalf("%s LatestTimestamp: %v", name, err)
		}
		if !ts.IsZero() {
			t.Errorf("%s LatestTimestamp = %v for empty collection, want zero", name, ts)
		}
	}
}

func TestFactoryFor(t *testing.T) {
	if _, err := FactoryFor("sqlite", "", ""); err == nil {
		t.Error("sqlite factory without a path should fail")
	}
	if _, err := FactoryFor("mongo", "x", "y"); err == nil {
		t.Error("unknown backend should fail")
	}

	f, err := FactoryFor("sqlite", filepath.Join(t.TempDir(), "f.db"), "")
	if err != nil {
		t.Fatalf("FactoryFor sqlite: %v", err)
	}
	s, err := f()
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := s.(*SQLite); !ok {
		t.Errorf("factory produced %T, want *SQLite", s)
	}
}
