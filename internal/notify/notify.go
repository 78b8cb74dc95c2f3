// Package notify publishes extraction lifecycle events so downstream
// consumers (backtest loaders, alerting) can react without polling storage.
package notify

import (
	"context"
	"time"
)

// SymbolEvent is emitted once per completed symbol extraction. Type is the
// series type (candles, trades, funding); Period is the candle interval, or
// "all" for series without one.
type SymbolEvent struct {
	Symbol          string    `json:"symbol"`
	Type            string    `json:"type"`
	Period          string    `json:"period"`
	RecordsFetched  int       `json:"records_fetched"`
	RecordsWritten  int       `json:"records_written"`
	Success         bool      `json:"success"`
	DurationSeconds float64   `json:"duration_seconds"`
	GapsFound       int       `json:"gaps_found"`
	GapsFilled      int       `json:"gaps_filled"`
	Errors          []string  `json:"errors,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// RunEvent is emitted once when a run finishes.
type RunEvent struct {
	Status           string    `json:"status"`
	TotalSymbols     int       `json:"total_symbols"`
	SymbolsProcessed int       `json:"symbols_processed"`
	SymbolsFailed    int       `json:"symbols_failed"`
	RecordsWritten   int       `json:"records_written"`
	GapsFilled       int       `json:"gaps_filled"`
	DurationSeconds  float64   `json:"duration_seconds"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Publisher delivers events. Implementations must be safe for use from the
// coordinator's result goroutine only; they are not called concurrently.
type Publisher interface {
	PublishSymbol(ctx context.Context, ev SymbolEvent) error
	PublishRun(ctx context.Context, ev RunEvent) error
	Close() error
}

// Nop discards every event. Used when notification is disabled.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) PublishSymbol(context.Context, SymbolEvent) error { return nil }
func (Nop) PublishRun(context.Context, RunEvent) error       { return nil }
func (Nop) Close() error                                     { return nil }
