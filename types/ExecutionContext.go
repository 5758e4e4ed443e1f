package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyContext is everything a strategy may look at on one tick.
// PriceHistory only contains candles at or before Timestamp.
type StrategyContext struct {
	Instruments      []string
	PriceHistory     map[string][]Candle
	Timestamp        time.Time
	Config           map[string]any
	Positions        map[string]decimal.Decimal
	AvailableBalance decimal.Decimal
}

type StrategyResult struct {
	Success bool
	Signals []TradingSignal
}
