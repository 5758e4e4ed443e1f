package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"cryptobacktester/types"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
)

var clickhouseIntervals = map[types.Interval]string{
	types.OneMinute:      "1m",
	types.FiveMinutes:    "5m",
	types.FifteenMinutes: "15m",
	types.ThirtyMinutes:  "30m",
	types.Hour:           "1h",
	types.FourHours:      "4h",
	types.Day:            "1d",
	types.Week:           "1w",
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// candleRows is the part of driver.Rows the store reads.
type candleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type queryFunc func(ctx context.Context, query string, args ...any) (candleRows, error)

// ClickHouseStore reads raw exchange candles from a ClickHouse ohlcv table.
type ClickHouseStore struct {
	query queryFunc
	table string
	close func() error
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 300,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	table := cfg.Table
	if table == "" {
		table = cfg.Database + ".ohlcv_raw"
	}
	return &ClickHouseStore{
		query: func(ctx context.Context, query string, args ...any) (candleRows, error) {
			return conn.Query(ctx, query, args...)
		},
		table: table,
		close: conn.Close,
	}, nil
}

func (s *ClickHouseStore) LoadCandles(ctx context.Context, instruments []string, start, end time.Time, interval types.Interval) ([]types.Candle, error) {
	iv, ok := clickhouseIntervals[interval]
	if !ok {
		return nil, ErrIntervalNotSupported
	}
	q := `
SELECT symbol, open_time_ms, toString(open), toString(high), toString(low), toString(close), toString(volume)
FROM ` + s.table + `
WHERE has(?, symbol) AND interval = ? AND open_time_ms BETWEEN ? AND ?
ORDER BY open_time_ms, symbol`
	from, to := millisRange(start, end)
	rows, err := s.query(ctx, q, instruments, iv, from, to)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	var out []types.Candle
	for rows.Next() {
		var (
			symbol        string
			openTime      uint64
			o, h, l, c, v string
		)
		if err := rows.Scan(&symbol, &openTime, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candle, err := parseCandle(symbol, openTime, o, h, l, c, v)
		if err != nil {
			return nil, err
		}
		out = append(out, candle)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoCandles
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// millisRange converts the range to open_time_ms bounds. A zero time leaves
// that side unbounded.
func millisRange(start, end time.Time) (uint64, uint64) {
	from, to := uint64(0), uint64(math.MaxUint64)
	if !start.IsZero() && start.UnixMilli() > 0 {
		from = uint64(start.UnixMilli())
	}
	if !end.IsZero() {
		if ms := end.UnixMilli(); ms >= 0 {
			to = uint64(ms)
		} else {
			to = 0
		}
	}
	return from, to
}

func (s *ClickHouseStore) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func parseCandle(symbol string, openTimeMs uint64, o, h, l, c, v string) (types.Candle, error) {
	fields := [5]decimal.Decimal{}
	for i, raw := range []string{o, h, l, c, v} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return types.Candle{}, fmt.Errorf("candle %s@%d: %w", symbol, openTimeMs, err)
		}
		fields[i] = d
	}
	return types.Candle{
		Instrument: symbol,
		Open:       fields[0],
		High:       fields[1],
		Low:        fields[2],
		Close:      fields[3],
		Volume:     fields[4],
		Timestamp:  time.UnixMilli(int64(openTimeMs)).UTC(),
	}, nil
}
