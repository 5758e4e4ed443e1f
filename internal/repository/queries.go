package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

type AssetRow struct {
	ID         int32
	Ticker     string
	Name       string
	Type       string
	CreatedAt  *time.Time
	ModifiedAt *time.Time
}

const getAssetByTicker = `
SELECT id, ticker, name, type, created_at, modified_at
FROM assets
WHERE ticker = $1`

func (q *Queries) GetAssetByTicker(ctx context.Context, ticker string) (AssetRow, error) {
	var a AssetRow
	err := q.db.QueryRow(ctx, getAssetByTicker, ticker).
		Scan(&a.ID, &a.Ticker, &a.Name, &a.Type, &a.CreatedAt, &a.ModifiedAt)
	return a, err
}

const listDatasetAssets = `
SELECT a.id, a.ticker, a.name, a.type, a.created_at, a.modified_at
FROM dataset_assets da
JOIN assets a ON a.id = da.asset_id
WHERE da.dataset_id = $1
ORDER BY a.ticker`

func (q *Queries) ListDatasetAssets(ctx context.Context, datasetID string) ([]AssetRow, error) {
	rows, err := q.db.Query(ctx, listDatasetAssets, datasetID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AssetRow, error) {
		var a AssetRow
		err := row.Scan(&a.ID, &a.Ticker, &a.Name, &a.Type, &a.CreatedAt, &a.ModifiedAt)
		return a, err
	})
}

const datasetExists = `SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1)`

func (q *Queries) DatasetExists(ctx context.Context, datasetID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, datasetExists, datasetID).Scan(&exists)
	return exists, err
}

type GetAggregatesParams struct {
	TimeBucket string
	AssetID    int32
	Starttime  *time.Time
	Endtime    *time.Time
}

type GetAggregatesRow struct {
	Bucket  *time.Time
	AssetID int32
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  decimal.Decimal
}

const getAggregates = `
SELECT time_bucket($1::interval, time) AS bucket,
       asset_id,
       first(open, time) AS open,
       max(high)         AS high,
       min(low)          AS low,
       last(close, time) AS close,
       sum(volume)       AS volume
FROM candles
WHERE asset_id = $2
  AND ($3::timestamptz IS NULL OR time >= $3)
  AND ($4::timestamptz IS NULL OR time <= $4)
GROUP BY bucket, asset_id
ORDER BY bucket`

func (q *Queries) GetAggregates(ctx context.Context, arg GetAggregatesParams) ([]GetAggregatesRow, error) {
	rows, err := q.db.Query(ctx, getAggregates, arg.TimeBucket, arg.AssetID, arg.Starttime, arg.Endtime)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (GetAggregatesRow, error) {
		var r GetAggregatesRow
		err := row.Scan(&r.Bucket, &r.AssetID, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume)
		return r, err
	})
}

type RunRow struct {
	ID           string
	UserID       string
	DatasetID    string
	StrategyID   string
	Seed         string
	Status       string
	ErrorMessage *string
	Config       []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const getRun = `
SELECT id, user_id, dataset_id, strategy_id, seed, status, error_message, config, created_at, updated_at
FROM backtest_runs
WHERE id = $1`

func (q *Queries) GetRun(ctx context.Context, id string) (RunRow, error) {
	var r RunRow
	err := q.db.QueryRow(ctx, getRun, id).Scan(
		&r.ID, &r.UserID, &r.DatasetID, &r.StrategyID, &r.Seed,
		&r.Status, &r.ErrorMessage, &r.Config, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

const getRunStatus = `SELECT status FROM backtest_runs WHERE id = $1`

func (q *Queries) GetRunStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := q.db.QueryRow(ctx, getRunStatus, id).Scan(&status)
	return status, err
}

type UpdateRunStatusParams struct {
	ID           string
	Status       string
	ErrorMessage *string
}

const updateRunStatus = `
UPDATE backtest_runs
SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1`

func (q *Queries) UpdateRunStatus(ctx context.Context, arg UpdateRunStatusParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateRunStatus, arg.ID, arg.Status, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// resultTable names one of the append-only result tables. They all share the
// (run_id, seq, ts, instrument, payload) layout.
type resultTable string

const (
	tradesTable    resultTable = "backtest_trades"
	signalsTable   resultTable = "backtest_signals"
	fillsTable     resultTable = "backtest_fills"
	snapshotsTable resultTable = "backtest_snapshots"
)

var resultColumns = []string{"run_id", "seq", "ts", "instrument", "payload"}

func (q *Queries) CopyResultRows(ctx context.Context, table resultTable, rows [][]any) (int64, error) {
	return q.db.CopyFrom(ctx, pgx.Identifier{string(table)}, resultColumns, pgx.CopyFromRows(rows))
}

// Table names come from the resultTable constants, never from input.
func (q *Queries) DeleteResultsFrom(ctx context.Context, table resultTable, runID string, fromSeq int) (int64, error) {
	sql := `DELETE FROM ` + pgx.Identifier{string(table)}.Sanitize() + ` WHERE run_id = $1 AND seq >= $2`
	tag, err := q.db.Exec(ctx, sql, runID, fromSeq)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListResultPayloads(ctx context.Context, table resultTable, runID string) ([][]byte, error) {
	sql := `SELECT payload FROM ` + pgx.Identifier{string(table)}.Sanitize() + ` WHERE run_id = $1 ORDER BY seq`
	rows, err := q.db.Query(ctx, sql, runID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[[]byte])
}

type UpsertCheckpointParams struct {
	RunID     string
	State     []byte
	Processed int
	Total     int
}

const upsertCheckpoint = `
INSERT INTO backtest_checkpoints (run_id, state, processed, total, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (run_id) DO UPDATE
SET state = EXCLUDED.state, processed = EXCLUDED.processed, total = EXCLUDED.total, updated_at = now()`

func (q *Queries) UpsertCheckpoint(ctx context.Context, arg UpsertCheckpointParams) error {
	_, err := q.db.Exec(ctx, upsertCheckpoint, arg.RunID, arg.State, arg.Processed, arg.Total)
	return err
}

const getCheckpoint = `SELECT state FROM backtest_checkpoints WHERE run_id = $1`

func (q *Queries) GetCheckpoint(ctx context.Context, runID string) ([]byte, error) {
	var state []byte
	err := q.db.QueryRow(ctx, getCheckpoint, runID).Scan(&state)
	return state, err
}

const deleteCheckpoint = `DELETE FROM backtest_checkpoints WHERE run_id = $1`

func (q *Queries) DeleteCheckpoint(ctx context.Context, runID string) error {
	_, err := q.db.Exec(ctx, deleteCheckpoint, runID)
	return err
}
