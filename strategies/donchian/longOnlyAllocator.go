package donchian

import (
	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

// LongOnlyAllocator sizes channel signals and drops the ones a long-only book
// cannot act on.
type LongOnlyAllocator struct {
	positionPercent float64
}

func NewLongOnlyAllocator(positionPercent float64) *LongOnlyAllocator {
	return &LongOnlyAllocator{
		positionPercent: positionPercent,
	}
}

func (a *LongOnlyAllocator) Allocate(signals []types.TradingSignal, positions map[string]decimal.Decimal) []types.TradingSignal {
	if len(signals) == 0 {
		return nil
	}

	out := make([]types.TradingSignal, 0, len(signals))
	seen := make(map[string]bool, len(signals))
	for _, sig := range signals {
		// Skip tickers with more than 1 signal on the tick
		if seen[sig.Instrument] {
			continue
		}
		seen[sig.Instrument] = true

		held := positions[sig.Instrument]
		switch {
		case held.IsZero() && sig.Action == types.ActionBuy:
			out = append(out, sig.WithPercentage(a.positionPercent))
		case held.IsPositive() && sig.Action == types.ActionSell:
			// close the whole long, never open a short
			out = append(out, sig.WithPercentage(1))
		}
		// same direction -> do nothing (no pyramiding here)
	}
	return out
}
