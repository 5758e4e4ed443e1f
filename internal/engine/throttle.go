package engine

import (
	"time"

	"cryptobacktester/types"
)

const tradeWindowMs = int64(24 * time.Hour / time.Millisecond)

func throttleKey(instrument string, side types.Side) string {
	return instrument + "|" + string(side)
}

// filterSignals applies cooldown, daily cap and sell floor rules. Only accepted
// non risk-control signals are recorded in state.
func filterSignals(signals []types.TradingSignal, state *types.ThrottleState, cfg types.ThrottleConfig, now time.Time) []types.TradingSignal {
	nowMs := now.UnixMilli()
	pruneThrottleState(state, cfg, nowMs)

	var accepted []types.TradingSignal
	for _, sig := range signals {
		if sig.Action == types.ActionHold {
			continue
		}
		if sig.OriginalType.IsRiskControl() {
			accepted = append(accepted, sig)
			continue
		}

		key := throttleKey(sig.Instrument, sig.Action.Side())
		if cfg.CooldownMs > 0 {
			if last, ok := state.LastFired[key]; ok && nowMs-last <= cfg.CooldownMs {
				continue
			}
		}
		if cfg.MaxTradesPerDay > 0 && len(state.TradeTimes) >= cfg.MaxTradesPerDay {
			continue
		}

		if sig.Action == types.ActionSell && sig.Quantity == nil && cfg.MinSellPercent > 0 {
			if sig.Percentage == nil || *sig.Percentage < cfg.MinSellPercent {
				floor := cfg.MinSellPercent
				sig.Percentage = &floor
			}
		}

		state.LastFired[key] = nowMs
		state.TradeTimes = append(state.TradeTimes, nowMs)
		accepted = append(accepted, sig)
	}
	return accepted
}

func pruneThrottleState(state *types.ThrottleState, cfg types.ThrottleConfig, nowMs int64) {
	if state.LastFired == nil {
		state.LastFired = make(map[string]int64)
	}
	if cfg.CooldownMs > 0 {
		for key, last := range state.LastFired {
			if nowMs-last > cfg.CooldownMs {
				delete(state.LastFired, key)
			}
		}
	}

	kept := state.TradeTimes[:0]
	for _, ts := range state.TradeTimes {
		if nowMs-ts < tradeWindowMs {
			kept = append(kept, ts)
		}
	}
	state.TradeTimes = kept
}
