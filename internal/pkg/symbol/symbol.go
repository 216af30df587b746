// Package symbol maps instrument codes (BTC) to exchange contracts
// (BTCUSDT, BTC/USDT) and back.
package symbol

import (
	"strings"
)

// knownQuotes is checked longest-first so BTCUSDT never splits as BTCU/SDT.
var knownQuotes = []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}

// Pair is a base instrument quoted in another asset.
type Pair struct {
	Base  string
	Quote string
}

func New(base, quote string) Pair {
	return Pair{Base: clean(base), Quote: clean(quote)}
}

func (p Pair) Valid() bool { return p.Base != "" && p.Quote != "" }

// Binance renders the futures contract name, e.g. BTCUSDT.
func (p Pair) Binance() string {
	if !p.Valid() {
		return ""
	}
	return p.Base + p.Quote
}

func (p Pair) String() string {
	if !p.Valid() {
		return ""
	}
	return p.Base + "/" + p.Quote
}

// Parse accepts BTC/USDT, BTCUSDT and BTC/USDT:USDT. Unknown shapes give
// an invalid Pair.
func Parse(s string) Pair {
	s = clean(s)
	if s == "" {
		return Pair{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return New(parts[0], parts[1])
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Pair{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Pair{}
}

// Base returns the instrument code of an exchange symbol, or the input
// upper-cased when it carries no quote asset.
func Base(s string) string {
	if p := Parse(s); p.Valid() {
		return p.Base
	}
	return clean(s)
}

func clean(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
