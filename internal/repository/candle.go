package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cryptobacktester/types"

	"github.com/jackc/pgx/v5"
)

var bucketToInterval = map[types.Interval]string{
	types.OneMinute:      "1 minute",
	types.FiveMinutes:    "5 minutes",
	types.FifteenMinutes: "15 minutes",
	types.ThirtyMinutes:  "30 minutes",
	types.Hour:           "1 hour",
	types.FourHours:      "4 hours",
	types.Day:            "1 day",
	types.Week:           "1 week",
}

func (db *Database) GetAggregates(ctx context.Context, assetId int, ticker string, interval types.Interval, start, end time.Time) ([]types.Candle, error) {
	bucket, ok := bucketToInterval[interval]
	if !ok {
		return nil, ErrIntervalNotSupported
	}
	args := GetAggregatesParams{
		TimeBucket: bucket,
		AssetID:    int32(assetId),
		Starttime:  timeOrNil(start),
		Endtime:    timeOrNil(end),
	}
	candles, err := db.candles.GetAggregates(ctx, args)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoCandles
		}
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	return convertCandles(candles, ticker), nil
}

// timeOrNil maps a zero bound to NULL, which the query reads as unbounded.
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// LoadCandles loads every instrument and merges them into one series sorted
// by timestamp. Instruments without candles in the range are skipped; only
// an entirely empty result is an error.
func (db *Database) LoadCandles(ctx context.Context, instruments []string, start, end time.Time, interval types.Interval) ([]types.Candle, error) {
	var out []types.Candle
	for _, ticker := range instruments {
		asset, err := db.GetAssetByTicker(ctx, ticker)
		if err != nil {
			return nil, err
		}
		candles, err := db.GetAggregates(ctx, asset.Id, ticker, interval, start, end)
		if errors.Is(err, ErrNoCandles) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", ticker, err)
		}
		out = append(out, candles...)
	}
	if len(out) == 0 {
		return nil, ErrNoCandles
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func convertCandles(candleDAOs []GetAggregatesRow, ticker string) []types.Candle {
	candles := make([]types.Candle, 0, len(candleDAOs))
	for _, dao := range candleDAOs {
		candles = append(candles, types.Candle{
			Instrument: ticker,
			Open:       dao.Open,
			Close:      dao.Close,
			High:       dao.High,
			Low:        dao.Low,
			Volume:     dao.Volume,
			Timestamp:  derefTime(dao.Bucket).UTC(),
		})
	}
	return candles
}
