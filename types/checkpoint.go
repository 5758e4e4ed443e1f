package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ThrottleState is keyed by "instrument|side". Times are unix milliseconds.
type ThrottleState struct {
	LastFired  map[string]int64 `json:"lastFired"`
	TradeTimes []int64          `json:"tradeTimes"`
}

func NewThrottleState() ThrottleState {
	return ThrottleState{LastFired: make(map[string]int64)}
}

func (s ThrottleState) Clone() ThrottleState {
	out := ThrottleState{
		LastFired:  make(map[string]int64, len(s.LastFired)),
		TradeTimes: append([]int64(nil), s.TradeTimes...),
	}
	for k, v := range s.LastFired {
		out.LastFired[k] = v
	}
	return out
}

// PersistedCounts is how many rows of each kind are durable for a run.
type PersistedCounts struct {
	Trades    int `json:"trades"`
	Signals   int `json:"signals"`
	Fills     int `json:"fills"`
	Snapshots int `json:"snapshots"`
}

func (c PersistedCounts) Add(r PartialResults) PersistedCounts {
	return PersistedCounts{
		Trades:    c.Trades + len(r.Trades),
		Signals:   c.Signals + len(r.Signals),
		Fills:     c.Fills + len(r.Fills),
		Snapshots: c.Snapshots + len(r.Snapshots),
	}
}

func (c PersistedCounts) IsZero() bool {
	return c == PersistedCounts{}
}

// CheckpointState is written once per checkpoint boundary and consumed once on resume.
type CheckpointState struct {
	RunID              string          `json:"runId"`
	LastProcessedIndex int             `json:"lastProcessedIndex"`
	LastTimestamp      time.Time       `json:"lastTimestamp"`
	RNGState           uint32          `json:"rngState"`
	Portfolio          PortfolioState  `json:"portfolio"`
	Throttle           ThrottleState   `json:"throttle"`
	PeakValue          decimal.Decimal `json:"peakValue"`
	Counts             PersistedCounts `json:"counts"`
	Checksum           string          `json:"checksum"`
	CreatedAt          time.Time       `json:"createdAt"`
}

// PartialResults are the rows buffered between two checkpoints.
type PartialResults struct {
	RunID     string                `json:"runId"`
	Trades    []Trade               `json:"trades"`
	Signals   []SignalRecord        `json:"signals"`
	Fills     []Fill                `json:"fills"`
	Snapshots []PerformanceSnapshot `json:"snapshots"`
}

func (r PartialResults) IsEmpty() bool {
	return len(r.Trades) == 0 && len(r.Signals) == 0 && len(r.Fills) == 0 && len(r.Snapshots) == 0
}

// Results is the full persisted history of a run.
type Results struct {
	Trades    []Trade
	Signals   []SignalRecord
	Fills     []Fill
	Snapshots []PerformanceSnapshot
}
