package engine

import (
	"math"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

const (
	defaultReferenceNotional = 10000.0
	defaultMaxSlippageBps    = 500.0
)

var bpsDivisor = decimal.NewFromInt(10000)

type slippageModel struct {
	cfg types.SlippageConfig
}

func newSlippageModel(cfg types.SlippageConfig) slippageModel {
	if cfg.Mode == "" {
		cfg.Mode = types.SlippageFixed
	}
	if cfg.ReferenceNotional <= 0 {
		cfg.ReferenceNotional = defaultReferenceNotional
	}
	if cfg.MaxBps <= 0 {
		cfg.MaxBps = defaultMaxSlippageBps
	}
	return slippageModel{cfg: cfg}
}

// bps returns the non-negative cost in basis points for an order. Side only
// affects the sign applied in executionPrice.
func (m slippageModel) bps(basePrice, estimatedQty decimal.Decimal, _ types.Side) float64 {
	var bps float64
	switch m.cfg.Mode {
	case types.SlippageVolume:
		notional := basePrice.Mul(estimatedQty).Abs().InexactFloat64()
		bps = m.cfg.BaseBps + m.cfg.ImpactFactor*(notional/m.cfg.ReferenceNotional)
	default:
		bps = m.cfg.FixedBps
	}
	if bps < 0 || math.IsNaN(bps) {
		return 0
	}
	return math.Min(bps, m.cfg.MaxBps)
}

// executionPrice moves the price against the trader: up for buys, down for sells.
func executionPrice(basePrice decimal.Decimal, bps float64, side types.Side) decimal.Decimal {
	if bps == 0 {
		return basePrice
	}
	adj := decimal.NewFromFloat(bps).Div(bpsDivisor)
	if side == types.SideTypeSell {
		return basePrice.Mul(decimal.NewFromInt(1).Sub(adj))
	}
	return basePrice.Mul(decimal.NewFromInt(1).Add(adj))
}
