package scheduler

import (
	"time"

	"marketcache/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosedBars drops the last bar if its bucket has not closed yet.
// Exchange style: the last kline may be the current, still moving candle.
func DropUnclosedBars(bars []market.HistoryBar, now time.Time, grace time.Duration) []market.HistoryBar {
	if len(bars) == 0 {
		return bars
	}
	if grace < 0 {
		grace = 0
	}
	last := bars[len(bars)-1]
	step := last.Granularity.Step()
	if step <= 0 || last.Bucket.IsZero() {
		return bars
	}
	cutoff := last.Bucket.Add(step).Add(grace)
	if now.Before(cutoff) {
		return bars[:len(bars)-1]
	}
	return bars
}
