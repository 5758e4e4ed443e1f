package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptobacktester/types"

	"github.com/jackc/pgx/v5"
)

type mockAssetsRepository struct {
	sqlError error
	datasets map[string][]AssetRow
}

func TestDatabase_GetAssetByTicker(t *testing.T) {
	tests := []struct {
		name    string
		ticker  string
		want    *types.Asset
		sqlErr  error
		wantErr error
	}{
		{"should throw ErrAssetNotFound", "BTC", nil, pgx.ErrNoRows, ErrAssetNotFound},
		{"should pass through other errors", "BTC", nil, errors.New("conn reset"), nil},
		{"should return asset", "BTC", &types.Asset{Ticker: "BTC", Id: 1}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &Database{assets: mockAssetsRepository{sqlError: tt.sqlErr}}
			got, err := db.GetAssetByTicker(context.Background(), tt.ticker)
			if tt.sqlErr != nil {
				if err == nil {
					t.Fatal("GetAssetByTicker() expected an error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("GetAssetByTicker() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetAssetByTicker() error = %v", err)
			}
			if got.Ticker != tt.want.Ticker || got.Id != tt.want.Id {
				t.Errorf("GetAssetByTicker() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDatabase_ResolveInstruments(t *testing.T) {
	repo := mockAssetsRepository{datasets: map[string][]AssetRow{
		"majors": {{ID: 1, Ticker: "BTC"}, {ID: 2, Ticker: "ETH"}},
		"empty":  nil,
	}}
	db := &Database{assets: repo}

	got, err := db.ResolveInstruments(context.Background(), "majors")
	if err != nil {
		t.Fatalf("ResolveInstruments() error = %v", err)
	}
	if len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Errorf("ResolveInstruments() = %v", got)
	}

	got, err = db.ResolveInstruments(context.Background(), "empty")
	if err != nil || len(got) != 0 {
		t.Errorf("empty dataset = %v, %v", got, err)
	}

	if _, err := db.ResolveInstruments(context.Background(), "missing"); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("missing dataset error = %v, want ErrDatasetNotFound", err)
	}
}

func (m mockAssetsRepository) GetAssetByTicker(_ context.Context, ticker string) (AssetRow, error) {
	if m.sqlError != nil {
		return AssetRow{}, m.sqlError
	}
	curTime := time.UnixMilli(1)
	return AssetRow{
		ID:         1,
		Ticker:     ticker,
		Name:       "Bitcoin",
		Type:       string(types.AssetTypeCrypto),
		CreatedAt:  &curTime,
		ModifiedAt: &curTime,
	}, nil
}

func (m mockAssetsRepository) ListDatasetAssets(_ context.Context, datasetID string) ([]AssetRow, error) {
	return m.datasets[datasetID], nil
}

func (m mockAssetsRepository) DatasetExists(_ context.Context, datasetID string) (bool, error) {
	_, ok := m.datasets[datasetID]
	return ok, nil
}
