package donchian

import (
	"fmt"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

const (
	defaultPeriod          = 20
	defaultATRPeriod       = 20
	defaultATRMultiplier   = 2.0
	defaultPositionPercent = 0.25
)

// Strategy trades breakouts of the Donchian channel of the preceding candles,
// long only. It keeps no state between ticks: the stop is derived from the
// history on every call, so a resumed run sees the same signals.
type Strategy struct {
	period        int
	atrPeriod     int
	atrMultiplier decimal.Decimal
	allocator     *LongOnlyAllocator
}

func New() *Strategy {
	return &Strategy{
		period:        defaultPeriod,
		atrPeriod:     defaultATRPeriod,
		atrMultiplier: decimal.NewFromFloat(defaultATRMultiplier),
		allocator:     NewLongOnlyAllocator(defaultPositionPercent),
	}
}

// Init reads period, atr_period, atr_multiplier and position_percent.
// Missing keys keep their defaults.
func (s *Strategy) Init(params map[string]any) error {
	if v, ok, err := intParam(params, "period"); err != nil {
		return err
	} else if ok {
		s.period = v
	}
	if v, ok, err := intParam(params, "atr_period"); err != nil {
		return err
	} else if ok {
		s.atrPeriod = v
	}
	if v, ok, err := floatParam(params, "atr_multiplier"); err != nil {
		return err
	} else if ok {
		s.atrMultiplier = decimal.NewFromFloat(v)
	}
	if v, ok, err := floatParam(params, "position_percent"); err != nil {
		return err
	} else if ok {
		if v <= 0 || v > 1 {
			return fmt.Errorf("position_percent %v out of (0, 1]", v)
		}
		s.allocator = NewLongOnlyAllocator(v)
	}
	if s.period < 1 || s.atrPeriod < 1 {
		return fmt.Errorf("period %d and atr_period %d must be positive", s.period, s.atrPeriod)
	}
	return nil
}

func (s *Strategy) Execute(ctx types.StrategyContext) (types.StrategyResult, error) {
	var signals []types.TradingSignal
	for _, inst := range ctx.Instruments {
		if sig, ok := s.onHistory(inst, ctx.PriceHistory[inst], ctx.Positions[inst].IsPositive()); ok {
			signals = append(signals, sig)
		}
	}
	return types.StrategyResult{Success: true, Signals: s.allocator.Allocate(signals, ctx.Positions)}, nil
}

func (s *Strategy) onHistory(inst string, hist []types.Candle, holding bool) (types.TradingSignal, bool) {
	// period completed candles for the channel plus the current one
	if len(hist) < s.period+1 {
		return types.TradingSignal{}, false
	}
	candle := hist[len(hist)-1]
	channel := hist[len(hist)-s.period-1 : len(hist)-1]
	highestHigh, lowestLow := donchianHighLow(channel)

	if !holding {
		if candle.High.GreaterThan(highestHigh) {
			return types.NewSignal(types.ActionBuy, inst,
				fmt.Sprintf("break of %d-candle high %s", s.period, highestHigh), types.SignalEntry), true
		}
		return types.TradingSignal{}, false
	}

	// Chandelier stop below the channel high.
	if atr := calcATR(hist, s.atrPeriod); atr.IsPositive() {
		stop := highestHigh.Sub(atr.Mul(s.atrMultiplier))
		if candle.Close.LessThan(stop) {
			return types.NewSignal(types.ActionSell, inst,
				fmt.Sprintf("ATR(%d) stop %s", s.atrPeriod, stop.StringFixed(2)), types.SignalStopLoss), true
		}
	}
	if candle.Low.LessThan(lowestLow) {
		return types.NewSignal(types.ActionSell, inst,
			fmt.Sprintf("break of %d-candle low %s", s.period, lowestLow), types.SignalExit), true
	}
	return types.TradingSignal{}, false
}

// Utility: Donchian Channel High/Low
func donchianHighLow(candles []types.Candle) (decimal.Decimal, decimal.Decimal) {
	if len(candles) == 0 {
		return decimal.Zero, decimal.Zero
	}

	highest := candles[0].High
	lowest := candles[0].Low

	for _, c := range candles {
		if c.High.GreaterThan(highest) {
			highest = c.High
		}
		if c.Low.LessThan(lowest) {
			lowest = c.Low
		}
	}
	return highest, lowest
}

// calcATR is Wilder's average true range seeded with the simple mean of the
// first period ranges.
func calcATR(candles []types.Candle, period int) decimal.Decimal {
	if len(candles) < period+1 {
		return decimal.Zero // need enough data (prev candle + period)
	}

	trueRanges := make([]decimal.Decimal, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		trueRanges = append(trueRanges, decimal.Max(high.Sub(low), high.Sub(prevClose).Abs(), low.Sub(prevClose).Abs()))
	}

	n := decimal.NewFromInt(int64(period))
	atr := decimal.Zero
	for _, tr := range trueRanges[:period] {
		atr = atr.Add(tr)
	}
	atr = atr.Div(n)

	for i := period; i < len(trueRanges); i++ {
		atr = atr.Mul(decimal.NewFromInt(int64(period - 1))).Add(trueRanges[i]).Div(n)
	}
	return atr
}

func intParam(params map[string]any, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int(v), true, nil
	default:
		return 0, false, fmt.Errorf("%s has type %T", key, raw)
	}
}

func floatParam(params map[string]any, key string) (float64, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, fmt.Errorf("%s has type %T", key, raw)
	}
}
