package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the canonical timestamp format of every view record.
const TimeLayout = "2006-01-02 15:04:05"

// Provenance tells where a view record came from.
type Provenance string

const (
	ProvenanceLive        Provenance = "live"
	ProvenanceCached      Provenance = "cached"
	ProvenanceSynthesized Provenance = "synthesized"
)

// PricePointView is the public shape of a latest price.
type PricePointView struct {
	Name       string     `json:"name"`
	Symbol     string     `json:"symbol"`
	Price      float64    `json:"price"`
	Change24h  float64    `json:"change_24h"`
	Timestamp  string     `json:"timestamp"`
	Provenance Provenance `json:"provenance,omitempty"`
}

// HistoryBarView is the public shape of a history bar.
type HistoryBarView struct {
	Symbol      string     `json:"symbol"`
	Date        string     `json:"date"`
	Open        float64    `json:"open"`
	High        float64    `json:"high"`
	Low         float64    `json:"low"`
	Close       float64    `json:"close"`
	Volume      float64    `json:"volume"`
	QuoteVolume float64    `json:"quote_volume"`
	Provenance  Provenance `json:"provenance,omitempty"`
}

// Consistent reports whether high/low bound open and close.
func (b HistoryBarView) Consistent() bool {
	if b.High < b.Low {
		return false
	}
	return b.High >= math.Max(b.Open, b.Close) && b.Low <= math.Min(b.Open, b.Close)
}

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// Float converts a store decimal into the plain numeric view representation.
func Float(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// NullFloat converts an optional decimal, mapping NULL to zero.
func NullFloat(d decimal.NullDecimal) float64 {
	if !d.Valid {
		return 0
	}
	return d.Decimal.InexactFloat64()
}
