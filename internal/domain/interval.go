package domain

import (
	"fmt"
	"time"
)

// Interval is an exchange kline interval in the exchange's own notation
// ("1m", "1h", "1d", ...).
type Interval string

// intervalDurations maps every supported interval to its bucket width.
var intervalDurations = map[Interval]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval validates an interval string against the supported set.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// Duration returns the bucket width of the interval, or zero if the interval
// is not one of the supported values.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

func (i Interval) String() string { return string(i) }

// FundingInterval is the cadence of perpetual funding settlements.
const FundingInterval = 8 * time.Hour
