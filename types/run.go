package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending: {RunRunning, RunFailed, RunCancelled},
	RunRunning: {RunCompleted, RunFailed, RunCancelled, RunPaused},
	RunPaused:  {RunPending, RunFailed},
}

func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type RunMode string

const (
	ModeFresh  RunMode = "fresh"
	ModeResume RunMode = "resume"
)

// Job is the queue payload that starts or resumes one run.
type Job struct {
	RunID      string  `json:"runId"`
	UserID     string  `json:"userId"`
	DatasetID  string  `json:"datasetId"`
	StrategyID string  `json:"strategyId"`
	Seed       string  `json:"deterministicSeed"`
	Mode       RunMode `json:"mode"`
}

type Run struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	DatasetID    string    `json:"datasetId"`
	StrategyID   string    `json:"strategyId"`
	Seed         string    `json:"seed"`
	Status       RunStatus `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Config       RunConfig `json:"config"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RunConfig is the configuration snapshot taken when the run was created.
type RunConfig struct {
	InitialCapital decimal.Decimal `json:"initialCapital"`
	FeeRate        decimal.Decimal `json:"feeRate"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	Interval       Interval        `json:"interval"`
	Slippage       SlippageConfig  `json:"slippage"`
	Throttle       ThrottleConfig  `json:"throttle"`
	StrategyParams map[string]any  `json:"strategyParams"`
	Instruments    []string        `json:"instruments"`
}

type SlippageMode string

const (
	SlippageFixed  SlippageMode = "fixed"
	SlippageVolume SlippageMode = "volume"
)

type SlippageConfig struct {
	Mode              SlippageMode `json:"mode"`
	FixedBps          float64      `json:"fixedBps"`
	BaseBps           float64      `json:"baseBps"`
	ImpactFactor      float64      `json:"impactFactor"`
	ReferenceNotional float64      `json:"referenceNotional"`
	MaxBps            float64      `json:"maxBps"`
}

// ThrottleConfig values of zero disable the matching rule.
type ThrottleConfig struct {
	CooldownMs      int64   `json:"cooldownMs"`
	MaxTradesPerDay int     `json:"maxTradesPerDay"`
	MinSellPercent  float64 `json:"minSellPercent"`
}
