package engine

import (
	"fmt"
	"time"

	"cryptobacktester/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	minDefaultFraction   = 0.05
	defaultFractionRange = 0.15
	// quantityPrecision is the number of decimal places of a sized quantity.
	quantityPrecision = 16
)

// executor turns accepted signals into trades against one portfolio.
type executor struct {
	runID     string
	portfolio *portfolio
	slippage  slippageModel
	rng       *rng
}

type execution struct {
	trade types.Trade
	fill  types.Fill
}

func tradeID(runID string, seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", runID, seq))).String()
}

// allocationFraction picks the fraction to trade when no explicit quantity is
// given. The RNG is only consumed on the last branch.
func (e *executor) allocationFraction(sig types.TradingSignal) float64 {
	switch {
	case sig.Percentage != nil:
		return clamp01(*sig.Percentage)
	case sig.Confidence > 0:
		return minDefaultFraction + clamp01(sig.Confidence)*defaultFractionRange
	default:
		return minDefaultFraction + e.rng.Float64()*defaultFractionRange
	}
}

func (e *executor) execute(sig types.TradingSignal, basePrice decimal.Decimal, ts time.Time, seq int) (execution, error) {
	if !basePrice.IsPositive() {
		return execution{}, fmt.Errorf("%w: %s", ErrNoPrice, sig.Instrument)
	}
	switch sig.Action {
	case types.ActionBuy:
		return e.executeBuy(sig, basePrice, ts, seq)
	case types.ActionSell:
		return e.executeSell(sig, basePrice, ts, seq)
	default:
		return execution{}, ErrZeroQuantity
	}
}

func (e *executor) executeBuy(sig types.TradingSignal, basePrice decimal.Decimal, ts time.Time, seq int) (execution, error) {
	var (
		qty       decimal.Decimal
		bps       float64
		execPrice decimal.Decimal
	)
	if sig.Quantity != nil {
		qty = *sig.Quantity
		bps = e.slippage.bps(basePrice, qty, types.SideTypeBuy)
		execPrice = executionPrice(basePrice, bps, types.SideTypeBuy)
	} else {
		allocation := e.portfolio.totalValue().Mul(decimal.NewFromFloat(e.allocationFraction(sig)))
		bps = e.slippage.bps(basePrice, allocation.Div(basePrice), types.SideTypeBuy)
		execPrice = executionPrice(basePrice, bps, types.SideTypeBuy)
		// truncated so qty×execPrice never exceeds the allocation
		qty, _ = allocation.QuoRem(execPrice, quantityPrecision)
	}

	res, err := e.portfolio.buy(sig.Instrument, qty, execPrice)
	if err != nil {
		return execution{}, err
	}
	e.mark(sig.Instrument, basePrice)
	return e.record(sig, types.SideTypeBuy, basePrice, bps, execPrice, qty, res.fee, sellResult{}, ts, seq), nil
}

func (e *executor) executeSell(sig types.TradingSignal, basePrice decimal.Decimal, ts time.Time, seq int) (execution, error) {
	held := e.portfolio.quantity(sig.Instrument)
	if !held.IsPositive() {
		return execution{}, ErrNoPosition
	}
	var qty decimal.Decimal
	if sig.Quantity != nil {
		qty = *sig.Quantity
	} else {
		qty = held.Mul(decimal.NewFromFloat(e.allocationFraction(sig)))
	}
	if qty.GreaterThan(held) {
		qty = held
	}

	bps := e.slippage.bps(basePrice, qty, types.SideTypeSell)
	execPrice := executionPrice(basePrice, bps, types.SideTypeSell)
	res, err := e.portfolio.sell(sig.Instrument, qty, execPrice)
	if err != nil {
		return execution{}, err
	}
	e.mark(sig.Instrument, basePrice)
	return e.record(sig, types.SideTypeSell, basePrice, bps, execPrice, res.quantity, res.fee, res, ts, seq), nil
}

// mark values the traded position at the nominal market price again, since
// buy and sell leave it at the slipped execution price.
func (e *executor) mark(instrument string, basePrice decimal.Decimal) {
	e.portfolio.revalue(map[string]decimal.Decimal{instrument: basePrice})
}

func (e *executor) record(
	sig types.TradingSignal,
	side types.Side,
	basePrice decimal.Decimal,
	bps float64,
	execPrice, qty, fee decimal.Decimal,
	sold sellResult,
	ts time.Time,
	seq int,
) execution {
	id := tradeID(e.runID, seq)
	trade := types.Trade{
		Seq:              seq,
		ID:               id,
		RunID:            e.runID,
		Timestamp:        ts,
		Instrument:       sig.Instrument,
		Side:             side,
		Quantity:         qty,
		Price:            execPrice,
		Fee:              fee,
		Reason:           sig.Reason,
		OriginalType:     sig.OriginalType,
		CashAfter:        e.portfolio.cash,
		PortfolioValueAt: e.portfolio.totalValue(),
	}
	if side == types.SideTypeSell {
		trade.CostBasis = sold.costBasis
		trade.RealizedPnL = sold.realizedPnL
		trade.RealizedPnLPct = sold.pnlPct
	} else {
		trade.CostBasis = execPrice
	}
	fill := types.Fill{
		Seq:          seq,
		RunID:        e.runID,
		TradeID:      id,
		Timestamp:    ts,
		Instrument:   sig.Instrument,
		Side:         side,
		NominalPrice: basePrice,
		SlippageBps:  bps,
		Price:        execPrice,
		Quantity:     qty,
		Fee:          fee,
	}
	return execution{trade: trade, fill: fill}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
