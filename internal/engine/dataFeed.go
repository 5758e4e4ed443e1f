package engine

import (
	"sort"
	"time"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

// aligner puts several per-instrument candle series on one shared time axis.
type aligner struct {
	instruments []string
	candles     map[string][]types.Candle
	axis        []time.Time
	// cursor is the index of the latest visible candle, -1 before the first one.
	cursor map[string]int
}

func newAligner(candles []types.Candle, start, end time.Time) (*aligner, error) {
	a := &aligner{
		candles: make(map[string][]types.Candle),
		cursor:  make(map[string]int),
	}

	seen := make(map[int64]struct{})
	for _, c := range candles {
		if !start.IsZero() && c.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && c.Timestamp.After(end) {
			continue
		}
		a.candles[c.Instrument] = append(a.candles[c.Instrument], c)
		key := c.Timestamp.UnixNano()
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			a.axis = append(a.axis, c.Timestamp)
		}
	}
	if len(a.axis) == 0 {
		return nil, ErrDataLoadFailed
	}

	for inst, series := range a.candles {
		sort.SliceStable(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })
		a.candles[inst] = series
		a.cursor[inst] = -1
		a.instruments = append(a.instruments, inst)
	}
	sort.Strings(a.instruments)
	sort.Slice(a.axis, func(i, j int) bool { return a.axis[i].Before(a.axis[j]) })
	return a, nil
}

func (a *aligner) len() int {
	return len(a.axis)
}

func (a *aligner) timestamp(i int) time.Time {
	return a.axis[i]
}

// advance moves every cursor forward to the last candle at or before ts.
func (a *aligner) advance(ts time.Time) {
	for _, inst := range a.instruments {
		a.cursor[inst] = advanceFeedIndex(a.candles[inst], a.cursor[inst], ts)
	}
}

// history returns the visible prefix for an instrument, optionally bounded to
// the last lookback candles. The slice must not be modified by callers.
func (a *aligner) history(instrument string, lookback int) []types.Candle {
	idx, ok := a.cursor[instrument]
	if !ok || idx < 0 {
		return nil
	}
	end := idx + 1
	start := 0
	if lookback > 0 && end-lookback > 0 {
		start = end - lookback
	}
	return a.candles[instrument][start:end:end]
}

func (a *aligner) historyAll(lookback int) map[string][]types.Candle {
	out := make(map[string][]types.Candle, len(a.instruments))
	for _, inst := range a.instruments {
		if h := a.history(inst, lookback); len(h) > 0 {
			out[inst] = h
		}
	}
	return out
}

func (a *aligner) lastPrice(instrument string) decimal.Decimal {
	idx, ok := a.cursor[instrument]
	if !ok || idx < 0 {
		return decimal.Zero
	}
	return a.candles[instrument][idx].Close
}

func (a *aligner) lastPrices() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(a.instruments))
	for _, inst := range a.instruments {
		if p := a.lastPrice(inst); p.IsPositive() {
			out[inst] = p
		}
	}
	return out
}

// Index only goes one way
func advanceFeedIndex(candles []types.Candle, prevIndex int, curTime time.Time) int {
	if prevIndex < -1 {
		prevIndex = -1
	}
	nextIdx := prevIndex + 1
	for nextIdx < len(candles) {
		if candles[nextIdx].Timestamp.After(curTime) {
			break
		}
		prevIndex = nextIdx
		nextIdx++
	}
	return prevIndex
}
