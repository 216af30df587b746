package marketdata

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"marketcache/internal/market"
)

// profile drives the placeholder data of one instrument.
type profile struct {
	spot      float64 // latest-price baseline
	base      float64 // chart baseline
	walk      float64 // max step of the random walk per bar
	openMin   float64
	openMax   float64
	wickMin   float64 // wickMin >= openMax keeps low <= open
	wickMax   float64
	volumeMin float64
	volumeMax float64
}

var profiles = map[string]profile{
	"BTC": {spot: 118676.66, base: 118000, walk: 500, openMin: 10, openMax: 50, wickMin: 50, wickMax: 100, volumeMin: 100, volumeMax: 1000},
	"ETH": {spot: 3500.75, base: 3500, walk: 50, openMin: 1, openMax: 5, wickMin: 5, wickMax: 10, volumeMin: 50, volumeMax: 500},
}

var defaultProfile = profile{spot: 100, base: 100, walk: 0.5, openMin: 0.01, openMax: 0.05, wickMin: 0.05, wickMax: 0.1, volumeMin: 10, volumeMax: 100}

func profileFor(symbol string) profile {
	if p, ok := profiles[symbol]; ok {
		return p
	}
	return defaultProfile
}

// Synthesizer produces well-formed placeholder data when the store has
// nothing to serve. Safe for concurrent use.
type Synthesizer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthesizer seeds the generator; seed 0 picks a time-based seed.
func NewSynthesizer(seed int64) *Synthesizer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthesizer{rng: rand.New(rand.NewSource(seed))}
}

func (s *Synthesizer) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// Price is the baseline moved by at most ±0.5% with a 24h change in ±2.
func (s *Synthesizer) Price(inst market.Instrument, now time.Time) market.PricePointView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price(inst, now)
}

func (s *Synthesizer) price(inst market.Instrument, now time.Time) market.PricePointView {
	p := profileFor(inst.Symbol)
	name := inst.Name
	if name == "" {
		name = inst.Symbol
	}
	return market.PricePointView{
		Name:       name,
		Symbol:     inst.Symbol,
		Price:      round2(p.spot * (1 + s.uniform(-0.005, 0.005))),
		Change24h:  round2(s.uniform(-2, 2)),
		Timestamp:  market.FormatTime(now),
		Provenance: market.ProvenanceSynthesized,
	}
}

func (s *Synthesizer) Prices(insts []market.Instrument, now time.Time) []market.PricePointView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.PricePointView, 0, len(insts))
	for _, inst := range insts {
		out = append(out, s.price(inst, now))
	}
	return out
}

// Bars returns n consistent bars ending at the bucket containing now,
// oldest first.
func (s *Synthesizer) Bars(symbol string, g market.Granularity, n int, now time.Time) []market.HistoryBarView {
	if n <= 0 {
		return nil
	}
	step := g.Step()
	if step <= 0 {
		step = time.Hour
	}
	p := profileFor(symbol)
	last := now.UTC().Truncate(step)

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]market.HistoryBarView, n)
	price := p.base
	for i := 0; i < n; i++ {
		price = math.Max(price+s.uniform(-p.walk, p.walk), p.base*0.5)
		closePx := price
		openPx := closePx - s.uniform(p.openMin, p.openMax)
		high := closePx + s.uniform(p.wickMin, p.wickMax)
		low := closePx - s.uniform(p.wickMin, p.wickMax)
		volume := s.uniform(p.volumeMin, p.volumeMax)
		out[i] = market.HistoryBarView{
			Symbol:      symbol,
			Date:        market.FormatTime(last.Add(-time.Duration(n-1-i) * step)),
			Open:        round2(openPx),
			High:        round2(high),
			Low:         round2(low),
			Close:       round2(closePx),
			Volume:      round2(volume),
			QuoteVolume: round2(volume * closePx),
			Provenance:  market.ProvenanceSynthesized,
		}
	}
	return out
}

// round2 is monotonic, so rounding never breaks low <= open, close <= high.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
