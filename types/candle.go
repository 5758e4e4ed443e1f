package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Instrument string          `json:"instrument"`
	Open       decimal.Decimal `json:"open"`
	Close      decimal.Decimal `json:"close"`
	High       decimal.Decimal `json:"high"`
	Low        decimal.Decimal `json:"low"`
	Volume     decimal.Decimal `json:"volume"`
	Timestamp  time.Time       `json:"timestamp"`
}
