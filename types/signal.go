package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingSignal is what a strategy emits for one instrument on one tick.
// Quantity and Percentage are optional; nil means "not specified".
type TradingSignal struct {
	Action       Action           `json:"action"`
	Instrument   string           `json:"instrument"`
	Quantity     *decimal.Decimal `json:"quantity,omitempty"`
	Percentage   *float64         `json:"percentage,omitempty"`
	Confidence   float64          `json:"confidence"`
	Reason       string           `json:"reason"`
	OriginalType SignalType       `json:"originalType"`
}

func NewSignal(action Action, instrument string, reason string, originalType SignalType) TradingSignal {
	return TradingSignal{
		Action:       action,
		Instrument:   instrument,
		Reason:       reason,
		OriginalType: originalType,
	}
}

func (s TradingSignal) WithQuantity(qty decimal.Decimal) TradingSignal {
	s.Quantity = &qty
	return s
}

func (s TradingSignal) WithPercentage(pct float64) TradingSignal {
	s.Percentage = &pct
	return s
}

func (s TradingSignal) WithConfidence(confidence float64) TradingSignal {
	s.Confidence = confidence
	return s
}

// SignalRecord is the persisted form of a signal that passed the throttle.
type SignalRecord struct {
	Seq       int           `json:"seq"`
	RunID     string        `json:"runId"`
	Timestamp time.Time     `json:"timestamp"`
	Signal    TradingSignal `json:"signal"`
}
