package engine

import (
	"context"
	"time"

	"cryptobacktester/types"
)

type CandleSource interface {
	LoadCandles(ctx context.Context, instruments []string, start, end time.Time, interval types.Interval) ([]types.Candle, error)
}

type InstrumentResolver interface {
	ResolveInstruments(ctx context.Context, datasetID string) ([]string, error)
}

// Persistence stores run results and checkpoints.
type Persistence interface {
	PersistIncremental(ctx context.Context, partial types.PartialResults) error
	SaveCheckpoint(ctx context.Context, state types.CheckpointState, processed, total int) error
	LoadCheckpoint(ctx context.Context, runID string) (*types.CheckpointState, error)
	ClearCheckpoint(ctx context.Context, runID string) error
	CleanupOrphanedResults(ctx context.Context, runID string, persisted types.PersistedCounts) (types.PersistedCounts, error)
	LoadResults(ctx context.Context, runID string) (types.Results, error)
}

type RunStore interface {
	GetRun(ctx context.Context, runID string) (*types.Run, error)
	RunStatus(ctx context.Context, runID string) (types.RunStatus, error)
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, message string) error
}

type Telemetry interface {
	PublishStatus(ctx context.Context, runID string, status types.RunStatus, message string, payload any) error
	PublishMetric(ctx context.Context, runID string, name string, value float64, unit string) error
	PublishLog(ctx context.Context, runID string, level string, message string) error
}

type Strategy interface {
	Execute(ctx types.StrategyContext) (types.StrategyResult, error)
}

// StrategyFactory builds a fresh strategy per run so runs never share state.
type StrategyFactory func() Strategy

// Initializer is an optional strategy capability, called once before the first tick.
type Initializer interface {
	Init(params map[string]any) error
}
