// Package cachekey derives cache keys and expirations from (kind, instrument,
// granularity). Keys are colon-delimited under a namespace:
//
//	<ns>:price:<SYMBOL>
//	<ns>:chart:<SYMBOL>:<granularity>
//	<ns>:latest_prices
//
// Symbols are upper-cased and granularities checked here, once, so call sites
// never format keys by hand.
package cachekey

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"marketcache/internal/market"
)

// Kind is the entity category of a key; it also selects the TTL tier.
type Kind string

const (
	KindLatest Kind = "latest_prices"
	KindPrice  Kind = "price"
	KindChart  Kind = "chart"
)

// Scope selects the keys removed by a bulk purge.
type Scope string

const (
	ScopeAll   Scope = "all"
	ScopePrice Scope = "price"
	ScopeChart Scope = "chart"
)

const DefaultNamespace = "crypto"

var (
	ErrInvalidSymbol      = errors.New("invalid instrument symbol")
	ErrInvalidGranularity = errors.New("invalid granularity")
	ErrInvalidScope       = errors.New("invalid purge scope")
)

// Builder builds keys for one namespace.
type Builder struct {
	ns string
}

func NewBuilder(namespace string) Builder {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Builder{ns: namespace}
}

func (b Builder) Namespace() string {
	if b.ns == "" {
		return DefaultNamespace
	}
	return b.ns
}

// Symbol normalizes and validates an instrument code.
func Symbol(raw string) (string, error) {
	sym := market.NormalizeSymbol(raw)
	if sym == "" || strings.ContainsAny(sym, ":*?[]\\ \t") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return sym, nil
}

func (b Builder) LatestPrices() string {
	return b.Namespace() + ":" + string(KindLatest)
}

func (b Builder) Price(symbol string) (string, error) {
	sym, err := Symbol(symbol)
	if err != nil {
		return "", err
	}
	return b.Namespace() + ":" + string(KindPrice) + ":" + sym, nil
}

func (b Builder) Chart(symbol string, g market.Granularity) (string, error) {
	sym, err := Symbol(symbol)
	if err != nil {
		return "", err
	}
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, g)
	}
	return b.Namespace() + ":" + string(KindChart) + ":" + sym + ":" + string(g), nil
}

// Patterns returns the glob patterns that cover a purge scope. The price
// scope includes the latest-prices snapshot.
func (b Builder) Patterns(scope Scope) ([]string, error) {
	ns := b.Namespace()
	switch Scope(strings.ToLower(strings.TrimSpace(string(scope)))) {
	case ScopeAll, "":
		return []string{ns + ":*"}, nil
	case ScopePrice, "prices":
		return []string{ns + ":" + string(KindPrice) + ":*", b.LatestPrices()}, nil
	case ScopeChart, "charts":
		return []string{ns + ":" + string(KindChart) + ":*"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
}

// InstrumentKeys lists every key owned by one instrument.
func (b Builder) InstrumentKeys(symbol string) ([]string, error) {
	price, err := b.Price(symbol)
	if err != nil {
		return nil, err
	}
	keys := []string{price}
	for _, g := range market.Granularities() {
		k, _ := b.Chart(symbol, g)
		keys = append(keys, k)
	}
	return keys, nil
}

// Tiers maps key kinds to expirations.
type Tiers struct {
	Latest time.Duration
	Price  time.Duration
	Chart  time.Duration
}

func DefaultTiers() Tiers {
	return Tiers{
		Latest: 60 * time.Second,
		Price:  60 * time.Second,
		Chart:  300 * time.Second,
	}
}

func (t Tiers) For(kind Kind) time.Duration {
	def := DefaultTiers()
	pick := func(v, fallback time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return fallback
	}
	switch kind {
	case KindLatest:
		return pick(t.Latest, def.Latest)
	case KindPrice:
		return pick(t.Price, def.Price)
	case KindChart:
		return pick(t.Chart, def.Chart)
	default:
		return def.Latest
	}
}

// Validate requires snapshot tiers to expire strictly before chart entries.
func (t Tiers) Validate() error {
	if t.For(KindLatest) >= t.For(KindChart) {
		return fmt.Errorf("latest ttl %s must be shorter than chart ttl %s", t.For(KindLatest), t.For(KindChart))
	}
	if t.For(KindPrice) >= t.For(KindChart) {
		return fmt.Errorf("price ttl %s must be shorter than chart ttl %s", t.For(KindPrice), t.For(KindChart))
	}
	return nil
}
