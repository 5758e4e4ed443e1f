package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cryptobacktester/types"

	"github.com/jackc/pgx/v5"
)

func (db *Database) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	row, err := db.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("run %s %w", runID, ErrRunNotFound)
		}
		return nil, err
	}
	run := &types.Run{
		ID:         row.ID,
		UserID:     row.UserID,
		DatasetID:  row.DatasetID,
		StrategyID: row.StrategyID,
		Seed:       row.Seed,
		Status:     types.RunStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.ErrorMessage != nil {
		run.ErrorMessage = *row.ErrorMessage
	}
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &run.Config); err != nil {
			return nil, fmt.Errorf("decode config of run %s: %w", runID, err)
		}
	}
	return run, nil
}

func (db *Database) RunStatus(ctx context.Context, runID string) (types.RunStatus, error) {
	status, err := db.runs.GetRunStatus(ctx, runID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("run %s %w", runID, ErrRunNotFound)
		}
		return "", err
	}
	return types.RunStatus(status), nil
}

func (db *Database) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, message string) error {
	arg := UpdateRunStatusParams{ID: runID, Status: string(status)}
	if message != "" {
		arg.ErrorMessage = &message
	}
	n, err := db.runs.UpdateRunStatus(ctx, arg)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s %w", runID, ErrRunNotFound)
	}
	return nil
}
