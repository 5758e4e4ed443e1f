package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cryptobacktester/internal/repository"
	"cryptobacktester/types"
)

func testRunState(t *testing.T) *runState {
	t.Helper()
	st := freshRunState("cp-seed", types.RunConfig{InitialCapital: d("1000"), FeeRate: d("0.001")})
	if _, err := st.portfolio.buy("BTC", d("1.5"), d("100")); err != nil {
		t.Fatal(err)
	}
	st.throttle.LastFired[throttleKey("BTC", types.SideTypeBuy)] = t0.UnixMilli()
	st.throttle.TradeTimes = append(st.throttle.TradeTimes, t0.UnixMilli())
	st.rng.Float64()
	return st
}

func TestCheckpointChecksum_SurvivesJSONRoundTrip(t *testing.T) {
	store := repository.NewMemoryStore()
	m := newCheckpointManager("run-1", store, 10, 100, types.PersistedCounts{})
	st := testRunState(t)

	if err := m.checkpoint(context.Background(), 9, t0, st); err != nil {
		t.Fatalf("checkpoint() error = %v", err)
	}
	cp, err := store.LoadCheckpoint(context.Background(), "run-1")
	if err != nil || cp == nil {
		t.Fatalf("LoadCheckpoint() = %v, %v", cp, err)
	}
	if err := verifyCheckpoint(*cp); err != nil {
		t.Errorf("verifyCheckpoint() after round trip error = %v", err)
	}
	if processed, total, ok := store.Progress("run-1"); !ok || processed != 10 || total != 100 {
		t.Errorf("progress = %d/%d (%v), want 10/100", processed, total, ok)
	}
}

func TestVerifyCheckpoint_DetectsTampering(t *testing.T) {
	st := testRunState(t)
	state := types.CheckpointState{
		RunID:              "run-1",
		LastProcessedIndex: 4,
		RNGState:           st.rng.State(),
		Portfolio:          st.portfolio.state(),
		Throttle:           st.throttle.Clone(),
		PeakValue:          st.peak,
	}
	sum, err := checkpointChecksum(state)
	if err != nil {
		t.Fatal(err)
	}
	state.Checksum = sum

	tests := []struct {
		name   string
		mutate func(s *types.CheckpointState)
	}{
		{"index", func(s *types.CheckpointState) { s.LastProcessedIndex++ }},
		{"rng", func(s *types.CheckpointState) { s.RNGState++ }},
		{"cash", func(s *types.CheckpointState) { s.Portfolio.Cash = s.Portfolio.Cash.Add(d("0.01")) }},
		{"throttle", func(s *types.CheckpointState) { s.Throttle.TradeTimes = nil }},
		{"peak", func(s *types.CheckpointState) { s.PeakValue = d("1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tampered types.CheckpointState
			b, _ := json.Marshal(state)
			if err := json.Unmarshal(b, &tampered); err != nil {
				t.Fatal(err)
			}
			tt.mutate(&tampered)
			if err := verifyCheckpoint(tampered); !errors.Is(err, ErrCheckpointCorrupt) {
				t.Errorf("verifyCheckpoint() error = %v, want ErrCheckpointCorrupt", err)
			}
		})
	}
}

func TestRestoreRunState_FreshInstances(t *testing.T) {
	store := repository.NewMemoryStore()
	m := newCheckpointManager("run-1", store, 10, 100, types.PersistedCounts{})
	st := testRunState(t)
	if err := m.checkpoint(context.Background(), 19, t0, st); err != nil {
		t.Fatal(err)
	}
	cp, _ := store.LoadCheckpoint(context.Background(), "run-1")

	restored, err := restoreRunState(*cp, types.RunConfig{FeeRate: d("0.001")})
	if err != nil {
		t.Fatalf("restoreRunState() error = %v", err)
	}
	if restored.startIndex != 20 {
		t.Errorf("startIndex = %d, want 20", restored.startIndex)
	}
	if restored.rng.Float64() != st.rng.Float64() {
		t.Error("restored rng does not continue the original stream")
	}
	if !restored.portfolio.cash.Equal(st.portfolio.cash) || !restored.portfolio.quantity("BTC").Equal(d("1.5")) {
		t.Errorf("restored portfolio = cash %s qty %s", restored.portfolio.cash, restored.portfolio.quantity("BTC"))
	}
	restored.throttle.LastFired["x"] = 1
	if _, ok := st.throttle.LastFired["x"]; ok {
		t.Error("restored throttle aliases the original")
	}
}

func TestCheckpointManager_FlushThenCheckpoint(t *testing.T) {
	store := repository.NewMemoryStore()
	m := newCheckpointManager("run-1", store, 5, 20, types.PersistedCounts{Trades: 2, Signals: 3})

	if !m.due(4) || m.due(5) || !m.due(9) {
		t.Errorf("due() boundaries wrong")
	}
	if got := m.nextTradeSeq(); got != 2 {
		t.Errorf("nextTradeSeq() = %d, want 2", got)
	}
	m.addSignal(t0, buy("BTC"))
	m.addSnapshot(types.PerformanceSnapshot{Timestamp: t0, TotalValue: d("1000")})
	if got := m.nextSignalSeq(); got != 4 {
		t.Errorf("nextSignalSeq() = %d, want 4", got)
	}

	if err := m.checkpoint(context.Background(), 4, t0, testRunState(t)); err != nil {
		t.Fatal(err)
	}
	if !m.pending.IsEmpty() {
		t.Error("buffers not cleared after checkpoint")
	}
	cp, _ := store.LoadCheckpoint(context.Background(), "run-1")
	want := types.PersistedCounts{Trades: 2, Signals: 4, Snapshots: 1}
	if cp.Counts != want {
		t.Errorf("checkpoint counts = %+v, want %+v", cp.Counts, want)
	}
	res, _ := store.LoadResults(context.Background(), "run-1")
	if len(res.Signals) != 1 || res.Signals[0].Seq != 3 || res.Snapshots[0].RunID != "run-1" {
		t.Errorf("flushed rows = %+v", res)
	}
}

type failingPersistence struct {
	Persistence
	failCheckpointAt int
	checkpoints      int
}

func (f *failingPersistence) SaveCheckpoint(ctx context.Context, state types.CheckpointState, processed, total int) error {
	f.checkpoints++
	if f.checkpoints == f.failCheckpointAt {
		return errors.New("disk full")
	}
	return f.Persistence.SaveCheckpoint(ctx, state, processed, total)
}

func TestCheckpointManager_SaveFailureIsPersistenceFailure(t *testing.T) {
	store := repository.NewMemoryStore()
	m := newCheckpointManager("run-1", &failingPersistence{Persistence: store, failCheckpointAt: 1}, 5, 20, types.PersistedCounts{})
	m.addSignal(t0, buy("BTC"))

	err := m.checkpoint(context.Background(), 4, t0, testRunState(t))
	if !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("checkpoint() error = %v, want ErrPersistenceFailure", err)
	}
	res, _ := store.LoadResults(context.Background(), "run-1")
	if len(res.Signals) != 1 {
		t.Errorf("rows should be flushed before the checkpoint write, got %d", len(res.Signals))
	}
	if cp, _ := store.LoadCheckpoint(context.Background(), "run-1"); cp != nil {
		t.Errorf("no checkpoint should be stored, got %+v", cp)
	}
}
