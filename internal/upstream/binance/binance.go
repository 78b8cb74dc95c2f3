// Package binance wraps the Binance USD-M futures REST API behind the small
// fetch surface the extraction engine needs: klines, aggregated trades,
// funding rates, and the premium index. All errors are classified through
// the fault taxonomy before they leave this package.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"harvester/internal/domain"
	"harvester/internal/fault"
)

// Exchange-imposed per-request record caps.
const (
	MaxKlinesPerRequest  = 1500
	MaxTradesPerRequest  = 1000
	MaxFundingPerRequest = 1000
)

// Config configures the REST client.
type Config struct {
	// BaseURL overrides the production endpoint (useful for testnets and
	// tests). Empty keeps the SDK default.
	BaseURL string
	// HTTPTimeout bounds each request; defaults to 30s.
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// Client fetches market data series. It is safe for concurrent use and is
// shared by all extraction workers.
type Client struct {
	cfg    Config
	client *futures.Client
}

// New creates a Client for the given config. No credentials are needed;
// every endpoint used here is public market data.
func New(cfg Config) *Client {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	if u := strings.TrimSpace(final.BaseURL); u != "" {
		client.BaseURL = u
	}
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{cfg: final, client: client}
}

// Ping verifies the upstream is reachable before a run starts. Failures are
// bootstrap errors: the whole run aborts rather than failing N symbols.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.NewPingService().Do(ctx); err != nil {
		return fault.Bootstrap("binance.ping", err)
	}
	return nil
}

// Klines fetches candles for [start, end), capped at MaxKlinesPerRequest
// rows. An empty result means the upstream has no data in the range.
func (c *Client) Klines(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) ([]domain.Candle, error) {
	if symbol == "" {
		return nil, fault.Validation("binance.klines", fmt.Errorf("symbol is required"))
	}
	rows, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval.String()).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli() - 1). // endpoint ranges are inclusive
		Limit(MaxKlinesPerRequest).
		Do(ctx)
	if err != nil {
		return nil, c.classify("binance.klines", err)
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, kl := range rows {
		if kl == nil {
			continue
		}
		out = append(out, domain.Candle{
			Symbol:      symbol,
			Interval:    interval,
			OpenTime:    time.UnixMilli(kl.OpenTime).UTC(),
			Open:        parseFloat(kl.Open),
			High:        parseFloat(kl.High),
			Low:         parseFloat(kl.Low),
			Close:       parseFloat(kl.Close),
			Volume:      parseFloat(kl.Volume),
			QuoteVolume: parseFloat(kl.QuoteAssetVolume),
			TradeCount:  kl.TradeNum,
		})
	}
	return out, nil
}

// AggTrades fetches aggregated trades for [start, end), capped at
// MaxTradesPerRequest rows.
func (c *Client) AggTrades(ctx context.Context, symbol string, start, end time.Time) ([]domain.Trade, error) {
	if symbol == "" {
		return nil, fault.Validation("binance.aggtrades", fmt.Errorf("symbol is required"))
	}
	rows, err := c.client.NewAggTradesService().
		Symbol(symbol).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli() - 1).
		Limit(MaxTradesPerRequest).
		Do(ctx)
	if err != nil {
		return nil, c.classify("binance.aggtrades", err)
	}

	out := make([]domain.Trade, 0, len(rows))
	for _, tr := range rows {
		if tr == nil {
			continue
		}
		out = append(out, tradeFrom(symbol, tr))
	}
	return out, nil
}

func tradeFrom(symbol string, tr *futures.AggTrade) domain.Trade {
	return domain.Trade{
		Symbol:    symbol,
		ID:        tr.AggTradeID,
		Timestamp: time.UnixMilli(tr.Timestamp).UTC(),
		Price:     parseFloat(tr.Price),
		Quantity:  parseFloat(tr.Quantity),
		Maker:     tr.IsBuyerMaker,
	}
}

// FundingRates fetches funding settlements for [start, end), capped at
// MaxFundingPerRequest rows.
func (c *Client) FundingRates(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingRate, error) {
	if symbol == "" {
		return nil, fault.Validation("binance.funding", fmt.Errorf("symbol is required"))
	}
	rows, err := c.client.NewFundingRateService().
		Symbol(symbol).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli() - 1).
		Limit(MaxFundingPerRequest).
		Do(ctx)
	if err != nil {
		return nil, c.classify("binance.funding", err)
	}

	out := make([]domain.FundingRate, 0, len(rows))
	for _, fr := range rows {
		if fr == nil {
			continue
		}
		out = append(out, domain.FundingRate{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(fr.FundingTime).UTC(),
			Rate:      parseFloat(fr.FundingRate),
			MarkPrice: parseFloat(fr.MarkPrice),
		})
	}
	return out, nil
}

// PremiumIndex returns the current premium-index snapshot for a symbol,
// carrying the live funding rate between settlements.
func (c *Client) PremiumIndex(ctx context.Context, symbol string) (domain.FundingRate, error) {
	if symbol == "" {
		return domain.FundingRate{}, fault.Validation("binance.premiumindex", fmt.Errorf("symbol is required"))
	}
	rows, err := c.client.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.FundingRate{}, c.classify("binance.premiumindex", err)
	}
	for _, entry := range rows {
		if entry == nil {
			continue
		}
		if strings.EqualFold(entry.Symbol, symbol) {
			return domain.FundingRate{
				Symbol:    symbol,
				Timestamp: time.UnixMilli(entry.Time).UTC(),
				Rate:      parseFloat(entry.LastFundingRate),
				MarkPrice: parseFloat(entry.MarkPrice),
			}, nil
		}
	}
	return domain.FundingRate{}, fault.Validation("binance.premiumindex", fmt.Errorf("premium index not available for %s", symbol))
}

// classify wraps an SDK error with its fault kind so callers and the retry
// executor can branch on classification instead of message text.
func (c *Client) classify(op string, err error) error {
	kind := fault.KindOf(err)
	if kind == fault.KindUnknown {
		// SDK transport errors that carry no code: treat decode failures
		// and the like as validation, they will not improve on retry.
		return fault.Validation(op, err)
	}
	return fault.New(kind, op, err)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
