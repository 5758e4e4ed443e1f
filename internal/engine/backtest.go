package engine

import (
	"context"
	"errors"
	"fmt"

	"cryptobacktester/types"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// backtester owns every piece of mutable state for a single run. Ticks are
// processed strictly in order.
type backtester struct {
	runID       string
	cfg         Config
	runCfg      types.RunConfig
	instruments []string
	strategy    *strategyAdapter
	feed        *aligner
	state       *runState
	exec        *executor
	checkpoints *checkpointManager
	runs        RunStore
	telemetry   Telemetry
	logger      *zap.Logger
}

func newBacktester(
	runID string,
	cfg Config,
	runCfg types.RunConfig,
	instruments []string,
	strat *strategyAdapter,
	feed *aligner,
	state *runState,
	checkpoints *checkpointManager,
	runs RunStore,
	telemetry Telemetry,
	logger *zap.Logger,
) *backtester {
	return &backtester{
		runID:       runID,
		cfg:         cfg,
		runCfg:      runCfg,
		instruments: instruments,
		strategy:    strat,
		feed:        feed,
		state:       state,
		exec: &executor{
			runID:     runID,
			portfolio: state.portfolio,
			slippage:  newSlippageModel(runCfg.Slippage),
			rng:       state.rng,
		},
		checkpoints: checkpoints,
		runs:        runs,
		telemetry:   telemetry,
		logger:      logger,
	}
}

func (b *backtester) run(ctx context.Context) error {
	total := b.feed.len()
	var bar *progressbar.ProgressBar
	if b.cfg.ShowProgress {
		bar = initProgressBar(total - b.state.startIndex)
	}

	for i := b.state.startIndex; i < total; i++ {
		if ctx.Err() != nil {
			return b.cancel(ctx, i)
		}
		b.tick(ctx, i)

		if (i+1)%b.cfg.HeartbeatEvery == 0 {
			if err := b.heartbeat(ctx, i); err != nil {
				return err
			}
		}
		if b.checkpoints.due(i) {
			if err := b.checkpoint(ctx, i); err != nil {
				return err
			}
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if err := b.checkpoints.flush(ctx); err != nil {
		return err
	}
	return b.confirmCompletion(ctx)
}

// confirmCompletion polls the run record once more after the last tick, so a
// failure or cancellation set after the last heartbeat is not overwritten.
func (b *backtester) confirmCompletion(ctx context.Context) error {
	status, err := b.runs.RunStatus(ctx, b.runID)
	if err != nil {
		b.logger.Warn("final status poll failed", zap.Error(err))
		return nil
	}
	switch status {
	case types.RunFailed:
		return fmt.Errorf("%w after last tick", ErrExternalCancellation)
	case types.RunCancelled:
		return fmt.Errorf("%w after last tick", ErrRunCancelled)
	}
	return nil
}

func (b *backtester) tick(ctx context.Context, i int) {
	ts := b.feed.timestamp(i)
	b.feed.advance(ts)
	prices := b.feed.lastPrices()
	p := b.state.portfolio
	p.revalue(prices)

	signals, err := b.strategy.execute(types.StrategyContext{
		Instruments:      b.instruments,
		PriceHistory:     b.feed.historyAll(b.cfg.LookbackBars),
		Timestamp:        ts,
		Config:           b.runCfg.StrategyParams,
		Positions:        p.quantities(),
		AvailableBalance: p.cash,
	})
	if err != nil {
		b.logger.Warn("strategy execution failed, skipping tick",
			zap.Int("tick", i),
			zap.Time("timestamp", ts),
			zap.Error(err))
		b.publishLog(ctx, "warn", fmt.Sprintf("tick %d: %v", i, err))
	}

	for _, sig := range filterSignals(signals, &b.state.throttle, b.runCfg.Throttle, ts) {
		b.checkpoints.addSignal(ts, sig)
		ex, err := b.exec.execute(sig, prices[sig.Instrument], ts, b.checkpoints.nextTradeSeq())
		if err != nil {
			b.logger.Debug("signal not executed",
				zap.Int("tick", i),
				zap.String("instrument", sig.Instrument),
				zap.String("action", string(sig.Action)),
				zap.Error(err))
			continue
		}
		b.checkpoints.addExecution(ex)
		p.revalue(prices)
	}

	value := p.totalValue()
	if value.GreaterThan(b.state.peak) {
		b.state.peak = value
	}
	if (i+1)%b.cfg.SnapshotEvery == 0 || i == b.feed.len()-1 {
		b.checkpoints.addSnapshot(b.snapshot(i, value))
	}
}

func (b *backtester) snapshot(i int, value decimal.Decimal) types.PerformanceSnapshot {
	view := b.state.portfolio.GetPortfolioSnapshot(b.feed.timestamp(i))
	snap := types.PerformanceSnapshot{
		Timestamp:  view.Time,
		TotalValue: value,
		Cash:       view.Cash,
		Holdings:   view.Positions,
	}
	if initial := b.runCfg.InitialCapital; initial.IsPositive() {
		snap.CumulativeReturn = value.Sub(initial).Div(initial).InexactFloat64()
	}
	if b.state.peak.IsPositive() {
		snap.Drawdown = b.state.peak.Sub(value).Div(b.state.peak).InexactFloat64()
	}
	return snap
}

// heartbeat polls the run record. A failed poll is logged and ignored.
func (b *backtester) heartbeat(ctx context.Context, i int) error {
	status, err := b.runs.RunStatus(ctx, b.runID)
	if err != nil {
		b.logger.Warn("heartbeat failed", zap.Int("tick", i), zap.Error(err))
		return nil
	}
	switch status {
	case types.RunFailed:
		return fmt.Errorf("%w at tick %d", ErrExternalCancellation, i)
	case types.RunCancelled:
		return b.cancel(ctx, i)
	case types.RunPaused:
		if err := b.checkpoint(ctx, i); err != nil {
			return err
		}
		return fmt.Errorf("%w at tick %d", ErrRunPaused, i)
	}
	return nil
}

func (b *backtester) checkpoint(ctx context.Context, i int) error {
	if err := b.checkpoints.checkpoint(ctx, i, b.feed.timestamp(i), b.state); err != nil {
		return err
	}
	b.logger.Debug("checkpoint written", zap.Int("tick", i), zap.Int("total", b.feed.len()))
	payload := map[string]int{"processed": i + 1, "total": b.feed.len()}
	if err := b.telemetry.PublishStatus(ctx, b.runID, types.RunRunning, "checkpoint", payload); err != nil {
		b.logger.Warn("publish progress failed", zap.Error(err))
	}
	return nil
}

// cancel keeps partial results. The context may already be done, so the
// flush runs detached from its cancellation.
func (b *backtester) cancel(ctx context.Context, i int) error {
	if err := b.checkpoints.flush(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(ErrRunCancelled, err)
	}
	return fmt.Errorf("%w at tick %d", ErrRunCancelled, i)
}

func (b *backtester) publishLog(ctx context.Context, level, message string) {
	if err := b.telemetry.PublishLog(ctx, b.runID, level, message); err != nil {
		b.logger.Warn("publish log failed", zap.Error(err))
	}
}

func initProgressBar(maxTicks int) *progressbar.ProgressBar {
	return progressbar.NewOptions(maxTicks,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("Backtesting in progress..."),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
}
