package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cryptobacktester/types"

	"github.com/jackc/pgx/v5"
)

// PersistIncremental appends one checkpoint window of rows. All four tables
// are written in a single transaction so a crash never leaves a partial window.
func (db *Database) PersistIncremental(ctx context.Context, partial types.PartialResults) error {
	if partial.IsEmpty() {
		return nil
	}
	batches, err := resultBatches(partial)
	if err != nil {
		return err
	}
	return db.inTx(ctx, func(results resultsRepository) error {
		for _, b := range batches {
			if len(b.rows) == 0 {
				continue
			}
			if _, err := results.CopyResultRows(ctx, b.table, b.rows); err != nil {
				return fmt.Errorf("copy %s: %w", b.table, err)
			}
		}
		return nil
	})
}

type resultBatch struct {
	table resultTable
	rows  [][]any
}

func resultBatches(partial types.PartialResults) ([]resultBatch, error) {
	trades := make([][]any, 0, len(partial.Trades))
	for _, t := range partial.Trades {
		row, err := resultRow(partial.RunID, t.Seq, t.Timestamp, t.Instrument, t)
		if err != nil {
			return nil, err
		}
		trades = append(trades, row)
	}
	signals := make([][]any, 0, len(partial.Signals))
	for _, s := range partial.Signals {
		row, err := resultRow(partial.RunID, s.Seq, s.Timestamp, s.Signal.Instrument, s)
		if err != nil {
			return nil, err
		}
		signals = append(signals, row)
	}
	fills := make([][]any, 0, len(partial.Fills))
	for _, f := range partial.Fills {
		row, err := resultRow(partial.RunID, f.Seq, f.Timestamp, f.Instrument, f)
		if err != nil {
			return nil, err
		}
		fills = append(fills, row)
	}
	snapshots := make([][]any, 0, len(partial.Snapshots))
	for _, s := range partial.Snapshots {
		row, err := resultRow(partial.RunID, s.Seq, s.Timestamp, "", s)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, row)
	}
	return []resultBatch{
		{tradesTable, trades},
		{signalsTable, signals},
		{fillsTable, fills},
		{snapshotsTable, snapshots},
	}, nil
}

func resultRow(runID string, seq int, ts time.Time, instrument string, v any) ([]any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result row %d: %w", seq, err)
	}
	return []any{runID, seq, ts, instrument, payload}, nil
}

func (db *Database) SaveCheckpoint(ctx context.Context, state types.CheckpointState, processed, total int) error {
	b, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	return db.results.UpsertCheckpoint(ctx, UpsertCheckpointParams{
		RunID:     state.RunID,
		State:     b,
		Processed: processed,
		Total:     total,
	})
}

// LoadCheckpoint returns nil without error when the run has no checkpoint.
func (db *Database) LoadCheckpoint(ctx context.Context, runID string) (*types.CheckpointState, error) {
	b, err := db.results.GetCheckpoint(ctx, runID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state types.CheckpointState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

func (db *Database) ClearCheckpoint(ctx context.Context, runID string) error {
	return db.results.DeleteCheckpoint(ctx, runID)
}

// CleanupOrphanedResults deletes rows written after the given counts. Sequence
// numbers start at zero, so a count is also the first orphaned seq.
func (db *Database) CleanupOrphanedResults(ctx context.Context, runID string, persisted types.PersistedCounts) (types.PersistedCounts, error) {
	var deleted types.PersistedCounts
	targets := []struct {
		table resultTable
		keep  int
		out   *int
	}{
		{tradesTable, persisted.Trades, &deleted.Trades},
		{signalsTable, persisted.Signals, &deleted.Signals},
		{fillsTable, persisted.Fills, &deleted.Fills},
		{snapshotsTable, persisted.Snapshots, &deleted.Snapshots},
	}
	err := db.inTx(ctx, func(results resultsRepository) error {
		for _, target := range targets {
			n, err := results.DeleteResultsFrom(ctx, target.table, runID, target.keep)
			if err != nil {
				return fmt.Errorf("cleanup %s: %w", target.table, err)
			}
			*target.out = int(n)
		}
		return nil
	})
	return deleted, err
}

func (db *Database) LoadResults(ctx context.Context, runID string) (types.Results, error) {
	var res types.Results
	var err error
	if res.Trades, err = loadRows[types.Trade](ctx, db.results, tradesTable, runID); err != nil {
		return types.Results{}, err
	}
	if res.Signals, err = loadRows[types.SignalRecord](ctx, db.results, signalsTable, runID); err != nil {
		return types.Results{}, err
	}
	if res.Fills, err = loadRows[types.Fill](ctx, db.results, fillsTable, runID); err != nil {
		return types.Results{}, err
	}
	if res.Snapshots, err = loadRows[types.PerformanceSnapshot](ctx, db.results, snapshotsTable, runID); err != nil {
		return types.Results{}, err
	}
	return res, nil
}

func loadRows[T any](ctx context.Context, results resultsRepository, table resultTable, runID string) ([]T, error) {
	payloads, err := results.ListResultPayloads(ctx, table, runID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	out := make([]T, 0, len(payloads))
	for _, p := range payloads {
		var row T
		if err := json.Unmarshal(p, &row); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, row)
	}
	return out, nil
}
