package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the bucket size of a history bar.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

var ErrUnknownGranularity = errors.New("unknown granularity")

// Granularities lists the supported bucket sizes, finest first.
func Granularities() []Granularity {
	return []Granularity{GranularityMinute, GranularityHour, GranularityDay}
}

// ParseGranularity accepts the canonical names plus the exchange style
// interval aliases 1m/1h/1d.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minute", "1m":
		return GranularityMinute, nil
	case "hour", "1h":
		return GranularityHour, nil
	case "day", "1d":
		return GranularityDay, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

func (g Granularity) Valid() bool {
	switch g {
	case GranularityMinute, GranularityHour, GranularityDay:
		return true
	}
	return false
}

// Step is the width of one bucket.
func (g Granularity) Step() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Interval is the exchange kline interval for this granularity.
func (g Granularity) Interval() string {
	switch g {
	case GranularityMinute:
		return "1m"
	case GranularityHour:
		return "1h"
	case GranularityDay:
		return "1d"
	default:
		return ""
	}
}

func (g Granularity) String() string { return string(g) }

// NormalizeSymbol upper-cases and trims an instrument code.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Instrument is immutable reference data.
type Instrument struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// PricePoint is one observation in the append-only price log.
type PricePoint struct {
	Symbol    string
	Price     decimal.Decimal
	Change24h decimal.NullDecimal
	Timestamp time.Time
}

// HistoryBar is an OHLCV bucket, unique per (Symbol, Granularity, Bucket).
type HistoryBar struct {
	Symbol      string
	Granularity Granularity
	Bucket      time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
}

// Validate checks the bar shape: low <= open, close <= high and
// non-negative volumes.
func (b HistoryBar) Validate() error {
	if NormalizeSymbol(b.Symbol) == "" {
		return errors.New("bar symbol is required")
	}
	if !b.Granularity.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownGranularity, b.Granularity)
	}
	if b.Bucket.IsZero() {
		return errors.New("bar bucket time is required")
	}
	if b.Low.GreaterThan(b.High) {
		return fmt.Errorf("bar low %s above high %s", b.Low, b.High)
	}
	for name, v := range map[string]decimal.Decimal{"open": b.Open, "close": b.Close} {
		if v.LessThan(b.Low) || v.GreaterThan(b.High) {
			return fmt.Errorf("bar %s %s outside [%s, %s]", name, v, b.Low, b.High)
		}
	}
	if b.Volume.IsNegative() || b.QuoteVolume.IsNegative() {
		return errors.New("bar volume cannot be negative")
	}
	return nil
}

// Quote is the latest PricePoint of an instrument joined with its name.
type Quote struct {
	Name string
	PricePoint
}
