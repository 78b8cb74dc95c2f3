package extract

import (
	"context"
	"time"

	"harvester/internal/domain"
	"harvester/internal/store"
	"harvester/internal/upstream/binance"
)

// Series describes one extraction stream: where records come from, where
// they land, and the cadence gap detection should expect. A zero Cadence
// means the series has no fixed cadence (trades) and skips gap checking.
type Series struct {
	Name       string
	Collection store.Collection
	Cadence    time.Duration
	// MaxPerRequest is the upstream per-request record cap; live fetch
	// chunks are sized as Cadence*MaxPerRequest.
	MaxPerRequest int

	Fetch func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Record, error)
}

// CandleSeries builds the candle stream for an interval.
func CandleSeries(client *binance.Client, iv domain.Interval) Series {
	return Series{
		Name:          "candles/" + iv.String(),
		Collection:    store.Candles(iv),
		Cadence:       iv.Duration(),
		MaxPerRequest: binance.MaxKlinesPerRequest,
		Fetch: func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Record, error) {
			candles, err := client.Klines(ctx, symbol, iv, start, end)
			if err != nil {
				return nil, err
			}
			return toRecords(candles), nil
		},
	}
}

// TradeSeries builds the aggregated-trade stream. Trades have no fixed
// cadence, so the worker skips gap detection for this series.
func TradeSeries(client *binance.Client) Series {
	return Series{
		Name:          "trades",
		Collection:    store.Trades,
		MaxPerRequest: binance.MaxTradesPerRequest,
		Fetch: func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Record, error) {
			trades, err := client.AggTrades(ctx, symbol, start, end)
			if err != nil {
				return nil, err
			}
			return toRecords(trades), nil
		},
	}
}

// FundingSeries builds the funding-rate stream at the exchange's settlement
// cadence.
func FundingSeries(client *binance.Client) Series {
	return Series{
		Name:          "funding",
		Collection:    store.Funding,
		Cadence:       domain.FundingInterval,
		MaxPerRequest: binance.MaxFundingPerRequest,
		Fetch: func(ctx context.Context, symbol string, start, end time.Time) ([]domain.Record, error) {
			rates, err := client.FundingRates(ctx, symbol, start, end)
			if err != nil {
				return nil, err
			}
			return toRecords(rates), nil
		},
	}
}

// SeriesFor maps a series type (plus candle interval) to its stream.
func SeriesFor(client *binance.Client, st domain.SeriesType, iv domain.Interval) Series {
	switch st {
	case domain.SeriesTrades:
		return TradeSeries(client)
	case domain.SeriesFunding:
		return FundingSeries(client)
	default:
		return CandleSeries(client, iv)
	}
}

func toRecords[T domain.Record](in []T) []domain.Record {
	out := make([]domain.Record, len(in))
	for i, r := range in {
		out[i] = r
	}
	return out
}
