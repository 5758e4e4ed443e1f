package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cryptobacktester/internal/repository"
	"cryptobacktester/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func noSignals(types.StrategyContext) (types.StrategyResult, error) {
	return types.StrategyResult{Success: true}, nil
}

// alternatingStrategy only looks at its context, so a resumed run sees exactly
// what an uninterrupted one does. Sizes come from the RNG default path.
func alternatingStrategy(ctx types.StrategyContext) (types.StrategyResult, error) {
	var signals []types.TradingSignal
	for _, inst := range ctx.Instruments {
		n := len(ctx.PriceHistory[inst])
		switch {
		case n == 0:
		case n%3 == 0 && ctx.Positions[inst].IsPositive():
			signals = append(signals, types.NewSignal(types.ActionSell, inst, "every third bar", types.SignalExit))
		case n%2 == 0:
			signals = append(signals, types.NewSignal(types.ActionBuy, inst, "every second bar", types.SignalEntry))
		}
	}
	return types.StrategyResult{Success: true, Signals: signals}, nil
}

type recordingTelemetry struct {
	statuses []types.RunStatus
	metrics  map[string]float64
}

func (r *recordingTelemetry) PublishStatus(_ context.Context, _ string, status types.RunStatus, _ string, _ any) error {
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *recordingTelemetry) PublishMetric(_ context.Context, _ string, name string, value float64, _ string) error {
	if r.metrics == nil {
		r.metrics = make(map[string]float64)
	}
	r.metrics[name] = value
	return nil
}

func (r *recordingTelemetry) PublishLog(context.Context, string, string, string) error {
	return nil
}

func hourlyCandles(inst string, closes ...int64) []types.Candle {
	out := make([]types.Candle, 0, len(closes))
	for i, c := range closes {
		out = append(out, mockCandle(inst, t0.Add(time.Duration(i)*time.Hour), c))
	}
	return out
}

func wave(n int, base int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = base + int64((i*7)%11) - 5
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	telemetry *recordingTelemetry
	engine    *Engine
}

func newFixture(t *testing.T, cfg Config, registry map[string]StrategyFactory, persistence Persistence) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	if persistence == nil {
		persistence = store
	}
	telemetry := &recordingTelemetry{}
	e := NewEngine(cfg, registry, Dependencies{
		Candles:     store,
		Instruments: store,
		Store:       persistence,
		Runs:        store,
		Telemetry:   telemetry,
	}, zaptest.NewLogger(t))
	return &fixture{store: store, telemetry: telemetry, engine: e}
}

func (f *fixture) addRun(id, strategyID string, capital, fee string) types.Job {
	f.store.PutRun(types.Run{
		ID:         id,
		DatasetID:  "ds-1",
		StrategyID: strategyID,
		Seed:       "seed-" + id,
		Status:     types.RunPending,
		Config: types.RunConfig{
			InitialCapital: d(capital),
			FeeRate:        d(fee),
			Interval:       types.Hour,
			Slippage:       types.SlippageConfig{Mode: types.SlippageFixed, FixedBps: 5},
		},
	})
	return types.Job{RunID: id, DatasetID: "ds-1", StrategyID: strategyID, Seed: "fixed-seed", Mode: types.ModeFresh}
}

func (f *fixture) status(t *testing.T, runID string) types.RunStatus {
	t.Helper()
	s, err := f.store.RunStatus(context.Background(), runID)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tradeFingerprint(trades []types.Trade) string {
	var b strings.Builder
	for _, tr := range trades {
		fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s\n", tr.Seq, tr.ID, tr.Instrument, tr.Side, tr.Quantity, tr.Price, tr.Fee)
	}
	return b.String()
}

func loadDataset(f *fixture, n int) {
	f.store.PutDataset(types.Dataset{ID: "ds-1", Assets: []types.Asset{{Ticker: "BTC"}, {Ticker: "ETH"}}})
	f.store.PutCandles(hourlyCandles("BTC", wave(n, 100)...))
	f.store.PutCandles(hourlyCandles("ETH", wave(n, 40)...))
}

var registry = map[string]StrategyFactory{
	"none":        func() Strategy { return funcStrategy(noSignals) },
	"alternating": func() Strategy { return funcStrategy(alternatingStrategy) },
}

func TestEngine_NoSignalsKeepsCapital(t *testing.T) {
	f := newFixture(t, DefaultConfig(), registry, nil)
	f.store.PutDataset(types.Dataset{ID: "ds-1", Assets: []types.Asset{{Ticker: "BTC"}}})
	f.store.PutCandles(hourlyCandles("BTC", 102, 108))
	job := f.addRun("run-1", "none", "1000", "0")

	report, err := f.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TotalTrades != 0 || !report.FinalValue.Equal(d("1000")) {
		t.Errorf("trades = %d final = %s, want 0 and 1000", report.TotalTrades, report.FinalValue)
	}
	if got := f.status(t, "run-1"); got != types.RunCompleted {
		t.Errorf("status = %s, want COMPLETED", got)
	}
	if cp, _ := f.store.LoadCheckpoint(context.Background(), "run-1"); cp != nil {
		t.Error("checkpoint should be cleared on completion")
	}
	if _, ok := f.telemetry.metrics["final_value"]; !ok {
		t.Error("metrics were not published")
	}
	last := f.telemetry.statuses[len(f.telemetry.statuses)-1]
	if last != types.RunCompleted {
		t.Errorf("last published status = %s, want COMPLETED", last)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	run := func() (string, *Report) {
		f := newFixture(t, NewConfig(10, 5, 5, 0), registry, nil)
		loadDataset(f, 60)
		report, err := f.engine.Run(context.Background(), f.addRun("run-1", "alternating", "10000", "0.001"))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		res, _ := f.store.LoadResults(context.Background(), "run-1")
		return tradeFingerprint(res.Trades), report
	}

	tradesA, reportA := run()
	tradesB, reportB := run()
	if tradesA == "" {
		t.Fatal("strategy produced no trades")
	}
	if tradesA != tradesB {
		t.Errorf("trade sequences differ:\n%s\nvs\n%s", tradesA, tradesB)
	}
	if !reportA.FinalValue.Equal(reportB.FinalValue) || reportA.SharpeRatio != reportB.SharpeRatio {
		t.Errorf("reports differ: %s/%v vs %s/%v", reportA.FinalValue, reportA.SharpeRatio, reportB.FinalValue, reportB.SharpeRatio)
	}
}

func TestEngine_PortfolioInvariant(t *testing.T) {
	f := newFixture(t, NewConfig(10, 1, 5, 0), registry, nil)
	loadDataset(f, 40)
	if _, err := f.engine.Run(context.Background(), f.addRun("run-1", "alternating", "1000", "0.001")); err != nil {
		t.Fatal(err)
	}
	res, _ := f.store.LoadResults(context.Background(), "run-1")
	if len(res.Snapshots) != 40 {
		t.Fatalf("snapshots = %d, want one per tick", len(res.Snapshots))
	}
	for _, snap := range res.Snapshots {
		sum := snap.Cash
		for _, h := range snap.Holdings {
			sum = sum.Add(h.Quantity.Mul(h.LastPrice))
		}
		if !sum.Equal(snap.TotalValue) {
			t.Errorf("%s: cash + holdings = %s, total = %s", snap.Timestamp, sum, snap.TotalValue)
		}
		if snap.Cash.IsNegative() {
			t.Errorf("%s: negative cash %s", snap.Timestamp, snap.Cash)
		}
	}
}

func TestEngine_ResumeAfterCrashBetweenFlushAndCheckpoint(t *testing.T) {
	cfg := NewConfig(10, 5, 5, 0)

	reference := newFixture(t, cfg, registry, nil)
	loadDataset(reference, 60)
	want, err := reference.engine.Run(context.Background(), reference.addRun("run-1", "alternating", "10000", "0.001"))
	if err != nil {
		t.Fatal(err)
	}
	wantRes, _ := reference.store.LoadResults(context.Background(), "run-1")

	// The third checkpoint write fails after its rows were flushed.
	failing := &failingPersistence{failCheckpointAt: 3}
	crashed := newFixture(t, cfg, registry, failing)
	failing.Persistence = crashed.store
	loadDataset(crashed, 60)
	job := crashed.addRun("run-1", "alternating", "10000", "0.001")

	if _, err := crashed.engine.Run(context.Background(), job); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("first Run() error = %v, want ErrPersistenceFailure", err)
	}
	if got := crashed.status(t, "run-1"); got != types.RunFailed {
		t.Fatalf("status after failure = %s, want FAILED", got)
	}
	cp, _ := crashed.store.LoadCheckpoint(context.Background(), "run-1")
	if cp == nil || cp.LastProcessedIndex != 19 {
		t.Fatalf("last good checkpoint = %+v, want index 19", cp)
	}
	before, _ := crashed.store.LoadResults(context.Background(), "run-1")
	if len(before.Snapshots) <= cp.Counts.Snapshots {
		t.Fatalf("expected orphaned rows past the checkpoint counts")
	}

	// The process died while the run still read RUNNING.
	if err := crashed.store.UpdateRunStatus(context.Background(), "run-1", types.RunRunning, ""); err != nil {
		t.Fatal(err)
	}
	job.Mode = types.ModeResume
	got, err := crashed.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	gotRes, _ := crashed.store.LoadResults(context.Background(), "run-1")

	if !got.FinalValue.Equal(want.FinalValue) {
		t.Errorf("final value = %s, want %s", got.FinalValue, want.FinalValue)
	}
	if got.TotalTrades != want.TotalTrades {
		t.Errorf("trades = %d, want %d", got.TotalTrades, want.TotalTrades)
	}
	if tradeFingerprint(gotRes.Trades) != tradeFingerprint(wantRes.Trades) {
		t.Error("resumed trade sequence differs from uninterrupted run")
	}
	if len(gotRes.Snapshots) != len(wantRes.Snapshots) || len(gotRes.Signals) != len(wantRes.Signals) {
		t.Errorf("row counts differ: snapshots %d/%d signals %d/%d",
			len(gotRes.Snapshots), len(wantRes.Snapshots), len(gotRes.Signals), len(wantRes.Signals))
	}
}

// hookStrategy changes the run record from outside at a given bar.
func hookStrategy(store *repository.MemoryStore, atBar int, status types.RunStatus) StrategyFactory {
	return func() Strategy {
		return funcStrategy(func(ctx types.StrategyContext) (types.StrategyResult, error) {
			if len(ctx.PriceHistory["BTC"]) == atBar {
				_ = store.UpdateRunStatus(context.Background(), "run-1", status, "forced")
			}
			return alternatingStrategy(ctx)
		})
	}
}

func TestEngine_ExternalFailureStopsAtHeartbeat(t *testing.T) {
	f := newFixture(t, NewConfig(10, 5, 5, 0), nil, nil)
	f.engine.strategies["hook"] = hookStrategy(f.store, 13, types.RunFailed)
	loadDataset(f, 60)

	_, err := f.engine.Run(context.Background(), f.addRun("run-1", "hook", "10000", "0"))
	if !errors.Is(err, ErrExternalCancellation) {
		t.Fatalf("Run() error = %v, want ErrExternalCancellation", err)
	}
	run, _ := f.store.GetRun(context.Background(), "run-1")
	if run.Status != types.RunFailed || run.ErrorMessage != "forced" {
		t.Errorf("run record was overwritten: %s %q", run.Status, run.ErrorMessage)
	}
	cp, _ := f.store.LoadCheckpoint(context.Background(), "run-1")
	if cp == nil || cp.LastProcessedIndex != 9 {
		t.Errorf("last checkpoint = %+v, want index 9 preserved", cp)
	}
}

func TestEngine_ExternalFailureAfterLastHeartbeat(t *testing.T) {
	tests := []struct {
		name    string
		status  types.RunStatus
		wantErr error
	}{
		{"failed", types.RunFailed, ErrExternalCancellation},
		{"cancelled", types.RunCancelled, ErrRunCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 58 ticks with a heartbeat only at tick 50
			f := newFixture(t, NewConfig(10, 5, 50, 0), nil, nil)
			f.engine.strategies["hook"] = hookStrategy(f.store, 55, tt.status)
			loadDataset(f, 58)

			_, err := f.engine.Run(context.Background(), f.addRun("run-1", "hook", "10000", "0"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			if got := f.status(t, "run-1"); got != tt.status {
				t.Errorf("status = %s, want %s", got, tt.status)
			}
		})
	}
}

func TestEngine_PauseAndResume(t *testing.T) {
	cfg := NewConfig(10, 5, 5, 0)

	reference := newFixture(t, cfg, registry, nil)
	loadDataset(reference, 60)
	want, err := reference.engine.Run(context.Background(), reference.addRun("run-1", "alternating", "10000", "0.001"))
	if err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, cfg, nil, nil)
	f.engine.strategies["alternating"] = hookStrategy(f.store, 13, types.RunPaused)
	loadDataset(f, 60)
	job := f.addRun("run-1", "alternating", "10000", "0.001")

	if _, err := f.engine.Run(context.Background(), job); !errors.Is(err, ErrRunPaused) {
		t.Fatalf("Run() error = %v, want ErrRunPaused", err)
	}
	cp, _ := f.store.LoadCheckpoint(context.Background(), "run-1")
	if cp == nil || cp.LastProcessedIndex != 14 {
		t.Fatalf("pause checkpoint = %+v, want index 14", cp)
	}

	// Re-enqueue: PAUSED -> PENDING, then resume without the pause hook.
	if err := f.store.UpdateRunStatus(context.Background(), "run-1", types.RunPending, ""); err != nil {
		t.Fatal(err)
	}
	f.engine.strategies["alternating"] = registry["alternating"]
	job.Mode = types.ModeResume
	got, err := f.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if !got.FinalValue.Equal(want.FinalValue) || got.TotalTrades != want.TotalTrades {
		t.Errorf("resumed run = %s/%d, want %s/%d", got.FinalValue, got.TotalTrades, want.FinalValue, want.TotalTrades)
	}
}

func TestEngine_ContextCancelKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, NewConfig(100, 5, 50, 0), nil, nil)
	f.engine.strategies["cancel"] = func() Strategy {
		return funcStrategy(func(sc types.StrategyContext) (types.StrategyResult, error) {
			if len(sc.PriceHistory["BTC"]) == 12 {
				cancel()
			}
			return alternatingStrategy(sc)
		})
	}
	loadDataset(f, 60)

	_, err := f.engine.Run(ctx, f.addRun("run-1", "cancel", "10000", "0"))
	if !errors.Is(err, ErrRunCancelled) {
		t.Fatalf("Run() error = %v, want ErrRunCancelled", err)
	}
	if got := f.status(t, "run-1"); got != types.RunCancelled {
		t.Errorf("status = %s, want CANCELLED", got)
	}
	res, _ := f.store.LoadResults(context.Background(), "run-1")
	if len(res.Snapshots) != 2 {
		t.Errorf("partial snapshots = %d, want 2 (ticks 4 and 9)", len(res.Snapshots))
	}
}

func TestEngine_FatalErrors(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		setup    func(f *fixture)
		wantErr  error
	}{
		{"unknown strategy", "missing", func(f *fixture) { loadDataset(f, 10) }, ErrStrategyNotRegistered},
		{"unknown dataset", "none", func(f *fixture) {}, ErrInstrumentUniverseUnresolved},
		{"empty dataset", "none", func(f *fixture) {
			f.store.PutDataset(types.Dataset{ID: "ds-1"})
		}, ErrInstrumentUniverseUnresolved},
		{"no candles", "none", func(f *fixture) {
			f.store.PutDataset(types.Dataset{ID: "ds-1", Assets: []types.Asset{{Ticker: "BTC"}}})
		}, ErrDataLoadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig(), registry, nil)
			tt.setup(f)
			_, err := f.engine.Run(context.Background(), f.addRun("run-1", tt.strategy, "1000", "0"))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
			}
			run, _ := f.store.GetRun(context.Background(), "run-1")
			if run.Status != types.RunFailed || run.ErrorMessage == "" {
				t.Errorf("run = %s %q, want FAILED with message", run.Status, run.ErrorMessage)
			}
		})
	}
}

func TestEngine_RejectsTerminalRun(t *testing.T) {
	f := newFixture(t, DefaultConfig(), registry, nil)
	job := f.addRun("run-1", "none", "1000", "0")
	if err := f.store.UpdateRunStatus(context.Background(), "run-1", types.RunCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Run(context.Background(), job); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Run() error = %v, want ErrInvalidTransition", err)
	}
}

func TestEngine_TickErrorsDoNotFailRun(t *testing.T) {
	f := newFixture(t, DefaultConfig(), nil, nil)
	f.engine.strategies["flaky"] = func() Strategy {
		return funcStrategy(func(sc types.StrategyContext) (types.StrategyResult, error) {
			if len(sc.PriceHistory["BTC"])%2 == 0 {
				return types.StrategyResult{}, errors.New("indicator not ready")
			}
			if len(sc.PriceHistory["BTC"]) == 3 {
				panic("bad bar")
			}
			return types.StrategyResult{Success: true, Signals: []types.TradingSignal{
				types.NewSignal(types.ActionBuy, "BTC", "odd bar", types.SignalEntry).WithQuantity(decimal.NewFromInt(1)),
			}}, nil
		})
	}
	loadDataset(f, 6)

	report, err := f.engine.Run(context.Background(), f.addRun("run-1", "flaky", "1000", "0"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TotalTrades != 2 {
		t.Errorf("trades = %d, want 2 (bars 1 and 5)", report.TotalTrades)
	}
}

func TestEngine_RunBatch(t *testing.T) {
	f := newFixture(t, NewConfig(10, 5, 5, 0), registry, nil)
	loadDataset(f, 30)
	jobs := []types.Job{
		f.addRun("run-a", "alternating", "10000", "0.001"),
		f.addRun("run-b", "alternating", "10000", "0.001"),
		f.addRun("run-c", "missing", "10000", "0.001"),
	}

	results := f.engine.RunBatch(context.Background(), jobs, 2)
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Err != nil || results[1].Err != nil {
		t.Fatalf("unexpected errors: %v / %v", results[0].Err, results[1].Err)
	}
	if !results[0].Report.FinalValue.Equal(results[1].Report.FinalValue) {
		t.Errorf("identical jobs diverged: %s vs %s", results[0].Report.FinalValue, results[1].Report.FinalValue)
	}
	if !errors.Is(results[2].Err, ErrStrategyNotRegistered) {
		t.Errorf("third job error = %v, want ErrStrategyNotRegistered", results[2].Err)
	}
}
