// Package domain defines the core market-data record types shared by the
// upstream client, the storage backends, and the extraction engine.
package domain

import (
	"fmt"
	"time"
)

// SeriesType identifies which upstream time series a record belongs to.
type SeriesType string

const (
	SeriesCandles SeriesType = "candles"
	SeriesTrades  SeriesType = "trades"
	SeriesFunding SeriesType = "funding"
)

// ParseSeriesType validates a series-type string from config or CLI flags.
func ParseSeriesType(s string) (SeriesType, error) {
	switch SeriesType(s) {
	case SeriesCandles, SeriesTrades, SeriesFunding:
		return SeriesType(s), nil
	}
	return "", fmt.Errorf("unknown series type %q", s)
}

// Record is the minimal surface the storage layer needs from any market-data
// record: which symbol it belongs to and where it sits on the time axis.
type Record interface {
	RecordSymbol() string
	RecordTimestamp() time.Time
}

// Candle is a single OHLCV bucket for a symbol and interval. OpenTime is the
// bucket open; buckets are half-open [OpenTime, OpenTime+interval).
type Candle struct {
	Symbol      string
	Interval    Interval
	OpenTime    time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	TradeCount  int64
}

func (c Candle) RecordSymbol() string       { return c.Symbol }
func (c Candle) RecordTimestamp() time.Time { return c.OpenTime }

// Trade is a single aggregated trade.
type Trade struct {
	Symbol    string
	ID        int64
	Timestamp time.Time
	Price     float64
	Quantity  float64
	Maker     bool
}

func (t Trade) RecordSymbol() string       { return t.Symbol }
func (t Trade) RecordTimestamp() time.Time { return t.Timestamp }

// FundingRate is one funding settlement for a perpetual contract.
type FundingRate struct {
	Symbol    string
	Timestamp time.Time
	Rate      float64
	MarkPrice float64
}

func (f FundingRate) RecordSymbol() string       { return f.Symbol }
func (f FundingRate) RecordTimestamp() time.Time { return f.Timestamp }

// Compile-time interface checks.
var _ Record = Candle{}
var _ Record = Trade{}
var _ Record = FundingRate{}
