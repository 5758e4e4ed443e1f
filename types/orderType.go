package types

type Side string

type Action string

// SignalType tags where a signal came from. Risk-control exits bypass throttling.
type SignalType string

const (
	SideTypeBuy  Side = "BUY"
	SideTypeSell Side = "SELL"

	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"

	SignalEntry      SignalType = "ENTRY"
	SignalExit       SignalType = "EXIT"
	SignalStopLoss   SignalType = "STOP_LOSS"
	SignalTakeProfit SignalType = "TAKE_PROFIT"
)

func (a Action) Side() Side {
	if a == ActionSell {
		return SideTypeSell
	}
	return SideTypeBuy
}

func (t SignalType) IsRiskControl() bool {
	return t == SignalStopLoss || t == SignalTakeProfit
}
