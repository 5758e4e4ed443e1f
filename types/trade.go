package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an executed signal. Realized P&L fields are only set on SELL trades.
type Trade struct {
	Seq              int             `json:"seq"`
	ID               string          `json:"id"`
	RunID            string          `json:"runId"`
	Timestamp        time.Time       `json:"timestamp"`
	Instrument       string          `json:"instrument"`
	Side             Side            `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	Fee              decimal.Decimal `json:"fee"`
	CostBasis        decimal.Decimal `json:"costBasis"`
	RealizedPnL      decimal.Decimal `json:"realizedPnl"`
	RealizedPnLPct   float64         `json:"realizedPnlPct"`
	Reason           string          `json:"reason"`
	OriginalType     SignalType      `json:"originalType"`
	CashAfter        decimal.Decimal `json:"cashAfter"`
	PortfolioValueAt decimal.Decimal `json:"portfolioValueAt"`
}

func (t Trade) Value() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Fill is the simulated execution detail behind a Trade.
type Fill struct {
	Seq          int             `json:"seq"`
	RunID        string          `json:"runId"`
	TradeID      string          `json:"tradeId"`
	Timestamp    time.Time       `json:"timestamp"`
	Instrument   string          `json:"instrument"`
	Side         Side            `json:"side"`
	NominalPrice decimal.Decimal `json:"nominalPrice"`
	SlippageBps  float64         `json:"slippageBps"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Fee          decimal.Decimal `json:"fee"`
}
