package engine

import (
	"context"
	"errors"
	"fmt"

	"cryptobacktester/types"

	"go.uber.org/zap"
)

// Dependencies are the external collaborators of an Engine. Telemetry may be
// nil, everything else is required.
type Dependencies struct {
	Candles     CandleSource
	Instruments InstrumentResolver
	Store       Persistence
	Runs        RunStore
	Telemetry   Telemetry
}

// Engine executes backtest jobs. It holds no per-run state, so one Engine can
// run many jobs concurrently.
type Engine struct {
	cfg         Config
	strategies  map[string]StrategyFactory
	candles     CandleSource
	instruments InstrumentResolver
	store       Persistence
	runs        RunStore
	telemetry   Telemetry
	logger      *zap.Logger
}

func NewEngine(cfg Config, strategies map[string]StrategyFactory, deps Dependencies, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	telemetry := deps.Telemetry
	if telemetry == nil {
		telemetry = nopTelemetry{}
	}
	registry := make(map[string]StrategyFactory, len(strategies))
	for id, f := range strategies {
		registry[id] = f
	}
	return &Engine{
		cfg:         cfg.withDefaults(),
		strategies:  registry,
		candles:     deps.Candles,
		instruments: deps.Instruments,
		store:       deps.Store,
		runs:        deps.Runs,
		telemetry:   telemetry,
		logger:      logger,
	}
}

// Run executes one job to completion, pause or failure. ErrRunPaused,
// ErrRunCancelled and ErrExternalCancellation are graceful exits; any other
// error has marked the run FAILED.
func (e *Engine) Run(ctx context.Context, job types.Job) (*Report, error) {
	log := e.logger.With(zap.String("run_id", job.RunID), zap.String("mode", string(job.Mode)))

	run, err := e.runs.GetRun(ctx, job.RunID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", job.RunID, err)
	}
	if err := e.start(ctx, run, job.Mode); err != nil {
		return nil, err
	}
	log.Info("run started")

	report, err := e.execute(ctx, run, job, log)
	return report, e.finish(ctx, run.ID, report, err, log)
}

func (e *Engine) start(ctx context.Context, run *types.Run, mode types.RunMode) error {
	// A resumed run may still read RUNNING after a crash.
	resumable := mode == types.ModeResume && run.Status == types.RunRunning
	if !resumable && !types.CanTransition(run.Status, types.RunRunning) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, types.RunRunning)
	}
	if err := e.runs.UpdateRunStatus(ctx, run.ID, types.RunRunning, ""); err != nil {
		return fmt.Errorf("%w: mark running: %v", ErrPersistenceFailure, err)
	}
	e.publishStatus(ctx, run.ID, types.RunRunning, "", nil)
	return nil
}

func (e *Engine) execute(ctx context.Context, run *types.Run, job types.Job, log *zap.Logger) (*Report, error) {
	strategyID := firstNonEmpty(job.StrategyID, run.StrategyID)
	adapter, err := newStrategyAdapter(e.strategies, strategyID)
	if err != nil {
		return nil, err
	}

	instruments, err := e.resolveInstruments(ctx, run, job)
	if err != nil {
		return nil, err
	}

	cfg := run.Config
	candles, err := e.candles.LoadCandles(ctx, instruments, cfg.Start, cfg.End, cfg.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataLoadFailed, err)
	}
	feed, err := newAligner(candles, cfg.Start, cfg.End)
	if err != nil {
		return nil, err
	}
	log.Info("market data loaded",
		zap.Int("candles", len(candles)),
		zap.Int("ticks", feed.len()),
		zap.Strings("instruments", instruments))

	if err := adapter.initialize(cfg.StrategyParams); err != nil {
		return nil, fmt.Errorf("init strategy %s: %w", strategyID, err)
	}

	state, persisted, err := e.prepareState(ctx, run, job, log)
	if err != nil {
		return nil, err
	}

	checkpoints := newCheckpointManager(run.ID, e.store, e.cfg.CheckpointEvery, feed.len(), persisted)
	bt := newBacktester(run.ID, e.cfg, cfg, instruments, adapter, feed, state, checkpoints, e.runs, e.telemetry, log)
	if err := bt.run(ctx); err != nil {
		return nil, err
	}

	results, err := e.store.LoadResults(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: load results: %v", ErrPersistenceFailure, err)
	}
	report := generateReport(run.ID, cfg.InitialCapital, feed.timestamp(0), feed.timestamp(feed.len()-1), results, e.cfg.Reporting)
	if err := e.store.ClearCheckpoint(ctx, run.ID); err != nil {
		return nil, fmt.Errorf("%w: clear checkpoint: %v", ErrPersistenceFailure, err)
	}
	return report, nil
}

func (e *Engine) resolveInstruments(ctx context.Context, run *types.Run, job types.Job) ([]string, error) {
	if len(run.Config.Instruments) > 0 {
		return run.Config.Instruments, nil
	}
	if e.instruments == nil {
		return nil, ErrInstrumentUniverseUnresolved
	}
	datasetID := firstNonEmpty(job.DatasetID, run.DatasetID)
	instruments, err := e.instruments.ResolveInstruments(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %v", ErrInstrumentUniverseUnresolved, datasetID, err)
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("%w: dataset %s", ErrInstrumentUniverseUnresolved, datasetID)
	}
	return instruments, nil
}

// prepareState returns the state to start the loop from and the row counts
// already durable for the run. Rows past those counts are deleted first.
func (e *Engine) prepareState(ctx context.Context, run *types.Run, job types.Job, log *zap.Logger) (*runState, types.PersistedCounts, error) {
	seed := firstNonEmpty(job.Seed, run.Seed)

	if job.Mode == types.ModeResume {
		cp, err := e.store.LoadCheckpoint(ctx, run.ID)
		if err != nil {
			return nil, types.PersistedCounts{}, fmt.Errorf("%w: load checkpoint: %v", ErrPersistenceFailure, err)
		}
		if cp != nil {
			state, err := restoreRunState(*cp, run.Config)
			if err != nil {
				return nil, types.PersistedCounts{}, err
			}
			deleted, err := e.store.CleanupOrphanedResults(ctx, run.ID, cp.Counts)
			if err != nil {
				return nil, types.PersistedCounts{}, fmt.Errorf("%w: cleanup: %v", ErrPersistenceFailure, err)
			}
			log.Info("resuming from checkpoint",
				zap.Int("index", cp.LastProcessedIndex),
				zap.Int("orphaned_trades", deleted.Trades),
				zap.Int("orphaned_signals", deleted.Signals),
				zap.Int("orphaned_fills", deleted.Fills),
				zap.Int("orphaned_snapshots", deleted.Snapshots))
			return state, cp.Counts, nil
		}
		log.Info("no checkpoint found, starting from the beginning")
	}

	if err := e.store.ClearCheckpoint(ctx, run.ID); err != nil {
		return nil, types.PersistedCounts{}, fmt.Errorf("%w: clear checkpoint: %v", ErrPersistenceFailure, err)
	}
	if _, err := e.store.CleanupOrphanedResults(ctx, run.ID, types.PersistedCounts{}); err != nil {
		return nil, types.PersistedCounts{}, fmt.Errorf("%w: cleanup: %v", ErrPersistenceFailure, err)
	}
	return freshRunState(seed, run.Config), types.PersistedCounts{}, nil
}

// finish records the outcome. The status is left alone when the run record
// was changed from outside (forced failure, pause, cancel).
func (e *Engine) finish(ctx context.Context, runID string, report *Report, runErr error, log *zap.Logger) error {
	ctx = context.WithoutCancel(ctx)

	switch {
	case runErr == nil:
		if err := e.transition(ctx, runID, types.RunCompleted, ""); err != nil {
			return err
		}
		e.publishStatus(ctx, runID, types.RunCompleted, "", report)
		e.publishReport(ctx, report)
		log.Info("run completed",
			zap.String("final_value", report.FinalValue.String()),
			zap.Int("trades", report.TotalTrades))
		return nil
	case errors.Is(runErr, ErrRunPaused):
		e.publishStatus(ctx, runID, types.RunPaused, runErr.Error(), nil)
		log.Info("run paused", zap.Error(runErr))
		return runErr
	case errors.Is(runErr, ErrExternalCancellation):
		log.Warn("run failed externally, stopping", zap.Error(runErr))
		return runErr
	case errors.Is(runErr, ErrRunCancelled):
		if err := e.transition(ctx, runID, types.RunCancelled, runErr.Error()); err != nil {
			return errors.Join(runErr, err)
		}
		e.publishStatus(ctx, runID, types.RunCancelled, runErr.Error(), nil)
		log.Info("run cancelled", zap.Error(runErr))
		return runErr
	default:
		log.Error("run failed", zap.Error(runErr))
		if err := e.transition(ctx, runID, types.RunFailed, runErr.Error()); err != nil {
			return errors.Join(runErr, err)
		}
		e.publishStatus(ctx, runID, types.RunFailed, runErr.Error(), nil)
		return runErr
	}
}

func (e *Engine) transition(ctx context.Context, runID string, to types.RunStatus, message string) error {
	if !types.CanTransition(types.RunRunning, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, types.RunRunning, to)
	}
	if err := e.runs.UpdateRunStatus(ctx, runID, to, message); err != nil {
		return fmt.Errorf("%w: mark %s: %v", ErrPersistenceFailure, to, err)
	}
	return nil
}

func (e *Engine) publishStatus(ctx context.Context, runID string, status types.RunStatus, message string, payload any) {
	if err := e.telemetry.PublishStatus(ctx, runID, status, message, payload); err != nil {
		e.logger.Warn("publish status failed",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type nopTelemetry struct{}

func (nopTelemetry) PublishStatus(context.Context, string, types.RunStatus, string, any) error {
	return nil
}

func (nopTelemetry) PublishMetric(context.Context, string, string, float64, string) error {
	return nil
}

func (nopTelemetry) PublishLog(context.Context, string, string, string) error {
	return nil
}
