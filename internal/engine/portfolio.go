package engine

import (
	"sort"
	"time"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

type portfolio struct {
	cash      decimal.Decimal
	positions map[string]*Position
	feeRate   decimal.Decimal
}

type Position struct {
	Instrument string
	Quantity   decimal.Decimal
	AvgCost    decimal.Decimal
	LastPrice  decimal.Decimal
}

func (p *Position) value() decimal.Decimal {
	return p.Quantity.Mul(p.LastPrice)
}

func newPortfolio(initialCash, feeRate decimal.Decimal) *portfolio {
	return &portfolio{
		cash:      initialCash,
		positions: make(map[string]*Position),
		feeRate:   feeRate,
	}
}

// restorePortfolio builds a fresh portfolio from a checkpointed state. Last
// prices stay zero until the next revaluation.
func restorePortfolio(state types.PortfolioState, feeRate decimal.Decimal) *portfolio {
	p := newPortfolio(state.Cash, feeRate)
	for inst, pos := range state.Positions {
		if pos.Quantity.IsZero() {
			continue
		}
		p.positions[inst] = &Position{
			Instrument: inst,
			Quantity:   pos.Quantity,
			AvgCost:    pos.AvgCost,
		}
	}
	return p
}

func (p *portfolio) state() types.PortfolioState {
	out := types.PortfolioState{
		Cash:      p.cash,
		Positions: make(map[string]types.PositionState, len(p.positions)),
	}
	for inst, pos := range p.positions {
		out.Positions[inst] = types.PositionState{Quantity: pos.Quantity, AvgCost: pos.AvgCost}
	}
	return out
}

func (p *portfolio) revalue(prices map[string]decimal.Decimal) {
	for inst, pos := range p.positions {
		if price, ok := prices[inst]; ok {
			pos.LastPrice = price
		}
	}
}

func (p *portfolio) totalValue() decimal.Decimal {
	value := p.cash
	for _, inst := range p.instruments() {
		value = value.Add(p.positions[inst].value())
	}
	return value
}

func (p *portfolio) instruments() []string {
	out := make([]string, 0, len(p.positions))
	for inst := range p.positions {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

func (p *portfolio) quantity(instrument string) decimal.Decimal {
	if pos, ok := p.positions[instrument]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

func (p *portfolio) quantities() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(p.positions))
	for inst, pos := range p.positions {
		out[inst] = pos.Quantity
	}
	return out
}

func (p *portfolio) GetPortfolioSnapshot(curTime time.Time) types.PortfolioView {
	view := types.PortfolioView{
		Cash:       p.cash,
		Positions:  make(map[string]types.PositionSnapshot, len(p.positions)),
		TotalValue: p.totalValue(),
		Time:       curTime,
	}
	for inst, pos := range p.positions {
		view.Positions[inst] = types.PositionSnapshot{
			Instrument:   inst,
			Quantity:     pos.Quantity,
			AvgCost:      pos.AvgCost,
			LastPrice:    pos.LastPrice,
			CurrentValue: pos.value(),
		}
	}
	return view
}

type buyResult struct {
	fee decimal.Decimal
}

// buy debits cash for qty at price plus fee. A buy that cannot be paid for is
// rejected without touching state.
func (p *portfolio) buy(instrument string, qty, price decimal.Decimal) (buyResult, error) {
	if !qty.IsPositive() {
		return buyResult{}, ErrZeroQuantity
	}
	tradeValue := qty.Mul(price)
	fee := tradeValue.Mul(p.feeRate)
	totalCost := tradeValue.Add(fee)
	if p.cash.LessThan(totalCost) {
		return buyResult{}, ErrInsufficientCash
	}
	p.cash = p.cash.Sub(totalCost)

	pos := p.positions[instrument]
	if pos == nil {
		pos = &Position{Instrument: instrument}
		p.positions[instrument] = pos
	}
	pos.AvgCost = weightedAvg(pos.AvgCost, pos.Quantity, price, qty)
	pos.Quantity = pos.Quantity.Add(qty)
	pos.LastPrice = price
	return buyResult{fee: fee}, nil
}

type sellResult struct {
	quantity    decimal.Decimal
	fee         decimal.Decimal
	costBasis   decimal.Decimal
	realizedPnL decimal.Decimal
	pnlPct      float64
}

// sell caps qty to the held quantity and realizes P&L against the average cost.
func (p *portfolio) sell(instrument string, qty, price decimal.Decimal) (sellResult, error) {
	pos := p.positions[instrument]
	if pos == nil || !pos.Quantity.IsPositive() {
		return sellResult{}, ErrNoPosition
	}
	if !qty.IsPositive() {
		return sellResult{}, ErrZeroQuantity
	}
	if qty.GreaterThan(pos.Quantity) {
		qty = pos.Quantity
	}

	proceeds := qty.Mul(price)
	fee := proceeds.Mul(p.feeRate)
	costBasis := pos.AvgCost
	res := sellResult{
		quantity:    qty,
		fee:         fee,
		costBasis:   costBasis,
		realizedPnL: price.Sub(costBasis).Mul(qty).Sub(fee),
	}
	if costBasis.IsPositive() {
		res.pnlPct = price.Sub(costBasis).Div(costBasis).InexactFloat64()
	}

	p.cash = p.cash.Add(proceeds).Sub(fee)
	pos.Quantity = pos.Quantity.Sub(qty)
	pos.LastPrice = price
	if pos.Quantity.IsZero() {
		delete(p.positions, instrument)
	}
	return res, nil
}

func weightedAvg(existingAvgPrice, existingQty, newPrice, newQty decimal.Decimal) decimal.Decimal {
	if existingQty.IsZero() {
		return newPrice
	}
	return existingAvgPrice.Mul(existingQty).
		Add(newPrice.Mul(newQty)).
		Div(existingQty.Add(newQty))
}
