package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Global error declarations.
var (
	ErrIntervalNotSupported = errors.New("timeframe not supported")
	ErrAssetNotFound        = errors.New("not found in datasource")
	ErrNoCandles            = errors.New("no candles found in datasource")
	ErrRunNotFound          = errors.New("run not found")
	ErrDatasetNotFound      = errors.New("dataset not found")
)

//go:embed schema.sql
var schemaSQL string

type assetsRepository interface {
	GetAssetByTicker(ctx context.Context, ticker string) (AssetRow, error)
	ListDatasetAssets(ctx context.Context, datasetID string) ([]AssetRow, error)
	DatasetExists(ctx context.Context, datasetID string) (bool, error)
}

type candlesRepository interface {
	GetAggregates(ctx context.Context, arg GetAggregatesParams) ([]GetAggregatesRow, error)
}

type runsRepository interface {
	GetRun(ctx context.Context, id string) (RunRow, error)
	GetRunStatus(ctx context.Context, id string) (string, error)
	UpdateRunStatus(ctx context.Context, arg UpdateRunStatusParams) (int64, error)
}

type resultsRepository interface {
	CopyResultRows(ctx context.Context, table resultTable, rows [][]any) (int64, error)
	DeleteResultsFrom(ctx context.Context, table resultTable, runID string, fromSeq int) (int64, error)
	ListResultPayloads(ctx context.Context, table resultTable, runID string) ([][]byte, error)
	UpsertCheckpoint(ctx context.Context, arg UpsertCheckpointParams) error
	GetCheckpoint(ctx context.Context, runID string) ([]byte, error)
	DeleteCheckpoint(ctx context.Context, runID string) error
}

// Database struct that holds the database connection and queries.
type Database struct {
	assets  assetsRepository
	candles candlesRepository
	runs    runsRepository
	results resultsRepository
	// inTx runs fn against a results repository bound to one transaction.
	inTx func(ctx context.Context, fn func(resultsRepository) error) error
	conn *pgxpool.Pool
}

// NewDatabase creates a new Database instance and verifies connectivity.
func NewDatabase(ctx context.Context, dbURL string) (*Database, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// Register shopspring decimal
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	conn, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	// Ensure the connection is established.
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	queries := New(conn)
	return &Database{
		assets:  queries,
		candles: queries,
		runs:    queries,
		results: queries,
		inTx: func(ctx context.Context, fn func(resultsRepository) error) error {
			return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
				return fn(queries.WithTx(tx))
			})
		},
		conn: conn,
	}, nil
}

// Migrate creates the tables the backtester reads and writes if they are missing.
func (db *Database) Migrate(ctx context.Context) error {
	if _, err := db.conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *Database) Close() {
	if db.conn != nil {
		db.conn.Close()
	}
}
