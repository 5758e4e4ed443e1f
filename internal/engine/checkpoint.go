package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"cryptobacktester/types"

	"github.com/shopspring/decimal"
)

// checksumPayload is the canonical form hashed into a checkpoint. encoding/json
// sorts map keys, so equal states always hash equally.
type checksumPayload struct {
	Index     int                  `json:"index"`
	RNG       uint32               `json:"rng"`
	Portfolio types.PortfolioState `json:"portfolio"`
	Throttle  types.ThrottleState  `json:"throttle"`
	Peak      string               `json:"peak"`
}

func checkpointChecksum(state types.CheckpointState) (string, error) {
	payload := checksumPayload{
		Index:     state.LastProcessedIndex,
		RNG:       state.RNGState,
		Portfolio: normalizePortfolioState(state.Portfolio),
		Throttle:  normalizeThrottleState(state.Throttle),
		Peak:      state.PeakValue.String(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func normalizePortfolioState(s types.PortfolioState) types.PortfolioState {
	if s.Positions == nil {
		s.Positions = map[string]types.PositionState{}
	}
	return s
}

func normalizeThrottleState(s types.ThrottleState) types.ThrottleState {
	if s.LastFired == nil {
		s.LastFired = map[string]int64{}
	}
	if len(s.TradeTimes) == 0 {
		s.TradeTimes = nil
	}
	return s
}

func verifyCheckpoint(state types.CheckpointState) error {
	sum, err := checkpointChecksum(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if sum != state.Checksum {
		return fmt.Errorf("%w: run %s at index %d", ErrCheckpointCorrupt, state.RunID, state.LastProcessedIndex)
	}
	return nil
}

// runState is the mutable per-run state owned by the loop.
type runState struct {
	rng       *rng
	portfolio *portfolio
	throttle  types.ThrottleState
	peak      decimal.Decimal
	// startIndex is the first tick still to process.
	startIndex int
}

func freshRunState(seed string, cfg types.RunConfig) *runState {
	return &runState{
		rng:       newRNG(seed),
		portfolio: newPortfolio(cfg.InitialCapital, cfg.FeeRate),
		throttle:  types.NewThrottleState(),
		peak:      cfg.InitialCapital,
	}
}

// restoreRunState builds brand new instances from a verified checkpoint; nothing
// from the checkpoint value is aliased.
func restoreRunState(state types.CheckpointState, cfg types.RunConfig) (*runState, error) {
	if err := verifyCheckpoint(state); err != nil {
		return nil, err
	}
	return &runState{
		rng:        newRNGFromState(state.RNGState),
		portfolio:  restorePortfolio(state.Portfolio, cfg.FeeRate),
		throttle:   state.Throttle.Clone(),
		peak:       state.PeakValue,
		startIndex: state.LastProcessedIndex + 1,
	}, nil
}

// checkpointManager buffers result rows between checkpoints and owns the
// flush-then-checkpoint sequence.
type checkpointManager struct {
	runID     string
	store     Persistence
	every     int
	total     int
	persisted types.PersistedCounts
	pending   types.PartialResults
}

func newCheckpointManager(runID string, store Persistence, every, total int, persisted types.PersistedCounts) *checkpointManager {
	return &checkpointManager{
		runID:     runID,
		store:     store,
		every:     every,
		total:     total,
		persisted: persisted,
		pending:   types.PartialResults{RunID: runID},
	}
}

func (m *checkpointManager) due(index int) bool {
	return m.every > 0 && (index+1)%m.every == 0
}

func (m *checkpointManager) nextTradeSeq() int    { return m.persisted.Trades + len(m.pending.Trades) }
func (m *checkpointManager) nextSignalSeq() int   { return m.persisted.Signals + len(m.pending.Signals) }
func (m *checkpointManager) nextSnapshotSeq() int { return m.persisted.Snapshots + len(m.pending.Snapshots) }

func (m *checkpointManager) addSignal(ts time.Time, sig types.TradingSignal) {
	m.pending.Signals = append(m.pending.Signals, types.SignalRecord{
		Seq:       m.nextSignalSeq(),
		RunID:     m.runID,
		Timestamp: ts,
		Signal:    sig,
	})
}

func (m *checkpointManager) addExecution(ex execution) {
	m.pending.Trades = append(m.pending.Trades, ex.trade)
	m.pending.Fills = append(m.pending.Fills, ex.fill)
}

func (m *checkpointManager) addSnapshot(s types.PerformanceSnapshot) {
	s.Seq = m.nextSnapshotSeq()
	s.RunID = m.runID
	m.pending.Snapshots = append(m.pending.Snapshots, s)
}

func (m *checkpointManager) flush(ctx context.Context) error {
	if m.pending.IsEmpty() {
		return nil
	}
	if err := m.store.PersistIncremental(ctx, m.pending); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrPersistenceFailure, err)
	}
	m.persisted = m.persisted.Add(m.pending)
	m.pending = types.PartialResults{RunID: m.runID}
	return nil
}

// checkpoint flushes buffered rows first, then writes the checkpoint that
// records the new persisted counts.
func (m *checkpointManager) checkpoint(ctx context.Context, index int, ts time.Time, st *runState) error {
	if err := m.flush(ctx); err != nil {
		return err
	}
	state := types.CheckpointState{
		RunID:              m.runID,
		LastProcessedIndex: index,
		LastTimestamp:      ts,
		RNGState:           st.rng.State(),
		Portfolio:          st.portfolio.state(),
		Throttle:           st.throttle.Clone(),
		PeakValue:          st.peak,
		Counts:             m.persisted,
		CreatedAt:          ts,
	}
	sum, err := checkpointChecksum(state)
	if err != nil {
		return fmt.Errorf("%w: checksum: %v", ErrPersistenceFailure, err)
	}
	state.Checksum = sum
	if err := m.store.SaveCheckpoint(ctx, state, index+1, m.total); err != nil {
		return fmt.Errorf("%w: checkpoint: %v", ErrPersistenceFailure, err)
	}
	return nil
}
