package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptobacktester/types"
)

// MemoryStore keeps runs, datasets, candles, results and checkpoints in
// process memory. It is safe for concurrent use by several runs.
type MemoryStore struct {
	mu          sync.Mutex
	runs        map[string]types.Run
	datasets    map[string]types.Dataset
	candles     map[string][]types.Candle
	results     map[string]*types.Results
	checkpoints map[string][]byte
	progress    map[string][2]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:        make(map[string]types.Run),
		datasets:    make(map[string]types.Dataset),
		candles:     make(map[string][]types.Candle),
		results:     make(map[string]*types.Results),
		checkpoints: make(map[string][]byte),
		progress:    make(map[string][2]int),
	}
}

func (s *MemoryStore) PutRun(run types.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *MemoryStore) PutDataset(dataset types.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[dataset.ID] = dataset
}

// PutCandles adds candles for their instruments. Existing candles are kept.
func (s *MemoryStore) PutCandles(candles []types.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.candles[c.Instrument] = append(s.candles[c.Instrument], c)
	}
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s %w", runID, ErrRunNotFound)
	}
	return &run, nil
}

func (s *MemoryStore) RunStatus(_ context.Context, runID string) (types.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return "", fmt.Errorf("run %s %w", runID, ErrRunNotFound)
	}
	return run.Status, nil
}

func (s *MemoryStore) UpdateRunStatus(_ context.Context, runID string, status types.RunStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s %w", runID, ErrRunNotFound)
	}
	run.Status = status
	run.ErrorMessage = message
	run.UpdatedAt = time.Now().UTC()
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) ResolveInstruments(_ context.Context, datasetID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s %w", datasetID, ErrDatasetNotFound)
	}
	return dataset.Tickers(), nil
}

func (s *MemoryStore) LoadCandles(_ context.Context, instruments []string, start, end time.Time, _ types.Interval) ([]types.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Candle
	for _, inst := range instruments {
		for _, c := range s.candles[inst] {
			if !start.IsZero() && c.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && c.Timestamp.After(end) {
				continue
			}
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoCandles
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) PersistIncremental(_ context.Context, partial types.PartialResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.resultsFor(partial.RunID)
	res.Trades = append(res.Trades, partial.Trades...)
	res.Signals = append(res.Signals, partial.Signals...)
	res.Fills = append(res.Fills, partial.Fills...)
	res.Snapshots = append(res.Snapshots, partial.Snapshots...)
	return nil
}

// SaveCheckpoint stores the checkpoint in its JSON form, the same shape the
// Postgres store keeps in its jsonb column.
func (s *MemoryStore) SaveCheckpoint(_ context.Context, state types.CheckpointState, processed, total int) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[state.RunID] = b
	s.progress[state.RunID] = [2]int{processed, total}
	return nil
}

// LoadCheckpoint returns nil without error when the run has no checkpoint.
func (s *MemoryStore) LoadCheckpoint(_ context.Context, runID string) (*types.CheckpointState, error) {
	s.mu.Lock()
	b, ok := s.checkpoints[runID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var state types.CheckpointState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

func (s *MemoryStore) ClearCheckpoint(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runID)
	delete(s.progress, runID)
	return nil
}

// Progress reports the processed and total tick counts of the last checkpoint.
func (s *MemoryStore) Progress(runID string) (processed, total int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[runID]
	return p[0], p[1], ok
}

// CleanupOrphanedResults trims every row kind back to the given counts and
// returns how many rows were removed.
func (s *MemoryStore) CleanupOrphanedResults(_ context.Context, runID string, persisted types.PersistedCounts) (types.PersistedCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.resultsFor(runID)
	var deleted types.PersistedCounts
	res.Trades, deleted.Trades = truncate(res.Trades, persisted.Trades)
	res.Signals, deleted.Signals = truncate(res.Signals, persisted.Signals)
	res.Fills, deleted.Fills = truncate(res.Fills, persisted.Fills)
	res.Snapshots, deleted.Snapshots = truncate(res.Snapshots, persisted.Snapshots)
	return deleted, nil
}

func (s *MemoryStore) LoadResults(_ context.Context, runID string) (types.Results, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[runID]
	if !ok {
		return types.Results{}, nil
	}
	return types.Results{
		Trades:    append([]types.Trade(nil), res.Trades...),
		Signals:   append([]types.SignalRecord(nil), res.Signals...),
		Fills:     append([]types.Fill(nil), res.Fills...),
		Snapshots: append([]types.PerformanceSnapshot(nil), res.Snapshots...),
	}, nil
}

func (s *MemoryStore) resultsFor(runID string) *types.Results {
	res, ok := s.results[runID]
	if !ok {
		res = &types.Results{}
		s.results[runID] = res
	}
	return res
}

func truncate[T any](rows []T, keep int) ([]T, int) {
	if keep < 0 {
		keep = 0
	}
	if len(rows) <= keep {
		return rows, 0
	}
	return rows[:keep:keep], len(rows) - keep
}
