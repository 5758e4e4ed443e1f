package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptobacktester/types"

	"github.com/jackc/pgx/v5"
)

// GetAssetByTicker retrieves a types.Asset by its ticker.
func (db *Database) GetAssetByTicker(ctx context.Context, ticker string) (*types.Asset, error) {
	asset, err := db.assets.GetAssetByTicker(ctx, ticker)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ticker %s %w", ticker, ErrAssetNotFound)
		}
		return nil, err
	}
	converted := convertAsset(asset)
	return &converted, nil
}

// ResolveInstruments lists the tickers of a dataset in ticker order.
func (db *Database) ResolveInstruments(ctx context.Context, datasetID string) ([]string, error) {
	exists, err := db.assets.DatasetExists(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("dataset %s %w", datasetID, ErrDatasetNotFound)
	}
	rows, err := db.assets.ListDatasetAssets(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	dataset := types.Dataset{ID: datasetID}
	for _, row := range rows {
		dataset.Assets = append(dataset.Assets, convertAsset(row))
	}
	return dataset.Tickers(), nil
}

func convertAsset(row AssetRow) types.Asset {
	return types.Asset{
		Id:         int(row.ID),
		Ticker:     row.Ticker,
		Name:       row.Name,
		Type:       types.AssetType(row.Type),
		CreatedAt:  derefTime(row.CreatedAt),
		ModifiedAt: derefTime(row.ModifiedAt),
	}
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
