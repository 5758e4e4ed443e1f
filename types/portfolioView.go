package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type PortfolioView struct {
	Cash       decimal.Decimal
	Positions  map[string]PositionSnapshot
	TotalValue decimal.Decimal
	Time       time.Time
}

type PositionSnapshot struct {
	Instrument   string          `json:"instrument"`
	Quantity     decimal.Decimal `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avgCost"`
	LastPrice    decimal.Decimal `json:"lastPrice"`
	CurrentValue decimal.Decimal `json:"currentValue"`
}

// PerformanceSnapshot is sampled every few ticks, not on every tick.
type PerformanceSnapshot struct {
	Seq              int                         `json:"seq"`
	RunID            string                      `json:"runId"`
	Timestamp        time.Time                   `json:"timestamp"`
	TotalValue       decimal.Decimal             `json:"totalValue"`
	Cash             decimal.Decimal             `json:"cash"`
	Holdings         map[string]PositionSnapshot `json:"holdings"`
	CumulativeReturn float64                     `json:"cumulativeReturn"`
	Drawdown         float64                     `json:"drawdown"`
}

// PortfolioState is the serializable core of a portfolio: cash and cost basis.
// Market values are recomputed on the next tick and are not part of it.
type PortfolioState struct {
	Cash      decimal.Decimal          `json:"cash"`
	Positions map[string]PositionState `json:"positions"`
}

type PositionState struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avgCost"`
}
