package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cryptobacktester/internal/config"
	"cryptobacktester/internal/engine"
	"cryptobacktester/internal/logger"
	"cryptobacktester/internal/repository"
	"cryptobacktester/internal/telemetry"
	"cryptobacktester/strategies/donchian"
	"cryptobacktester/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var registry = map[string]engine.StrategyFactory{
	"donchian": func() engine.Strategy { return donchian.New() },
}

type options struct {
	configPath  string
	runIDs      string
	mode        string
	tradesCSV   string
	exportArrow string
	migrate     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "config file (yaml, toml or json)")
	flag.StringVar(&opts.runIDs, "runs", "", "comma separated run ids to execute; empty creates an ad-hoc run from the run section")
	flag.StringVar(&opts.mode, "mode", string(types.ModeFresh), "fresh or resume")
	flag.StringVar(&opts.tradesCSV, "trades-csv", "", "write each run's trades to this csv file")
	flag.StringVar(&opts.exportArrow, "export-arrow", "", "export the run section's candles to an arrow file and exit")
	flag.BoolVar(&opts.migrate, "migrate", false, "apply the postgres schema before running")
	flag.Parse()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, log); err != nil {
		log.Error("backtester failed", zap.Error(err))
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
}

// backend bundles the stores the engine needs. Postgres serves all of them
// when configured, otherwise an in-memory store does.
type backend struct {
	runs       engine.RunStore
	store      engine.Persistence
	resolver   engine.InstrumentResolver
	candles    engine.CandleSource
	memory     *repository.MemoryStore
	closeFuncs []func()
}

func (b *backend) close() {
	for i := len(b.closeFuncs) - 1; i >= 0; i-- {
		b.closeFuncs[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) error {
	b, err := openBackend(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer b.close()

	if opts.exportArrow != "" {
		return exportArrow(ctx, cfg, b.candles, opts.exportArrow, log)
	}

	publisher, closePublisher := openTelemetry(cfg, log)
	defer closePublisher()

	jobs, err := buildJobs(cfg, opts, b)
	if err != nil {
		return err
	}

	engineCfg := engine.NewConfig(cfg.Engine.CheckpointEvery, cfg.Engine.SnapshotEvery, cfg.Engine.HeartbeatEvery, cfg.Engine.LookbackBars)
	engineCfg.Reporting = engine.NewReportingConfig(cfg.Engine.RiskFreeRate, cfg.AnnualizationFactor())
	engineCfg.ShowProgress = cfg.Engine.ShowProgress && len(jobs) == 1

	eng := engine.NewEngine(engineCfg, registry, engine.Dependencies{
		Candles:     b.candles,
		Instruments: b.resolver,
		Store:       b.store,
		Runs:        b.runs,
		Telemetry:   publisher,
	}, log)

	var failed []string
	for _, res := range eng.RunBatch(ctx, jobs, cfg.Engine.Concurrency) {
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, engine.ErrRunPaused), errors.Is(res.Err, engine.ErrRunCancelled):
			log.Info("run stopped", zap.String("run_id", res.Job.RunID), zap.Error(res.Err))
			continue
		default:
			failed = append(failed, res.Job.RunID)
			continue
		}
		engine.PrintReport(os.Stdout, res.Report)
		if opts.tradesCSV != "" {
			if err := writeTrades(ctx, b.store, res.Job.RunID, csvPath(opts.tradesCSV, res.Job.RunID, len(jobs))); err != nil {
				log.Error("export trades", zap.String("run_id", res.Job.RunID), zap.Error(err))
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d run(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, opts options, log *zap.Logger) (*backend, error) {
	b := &backend{}
	if cfg.Database.DSN != "" {
		db, err := repository.NewDatabase(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closeFuncs = append(b.closeFuncs, db.Close)
		if opts.migrate || cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				b.close()
				return nil, err
			}
		}
		b.runs, b.store, b.resolver, b.candles = db, db, db, db
	} else {
		log.Info("no database configured, keeping run state in memory")
		b.memory = repository.NewMemoryStore()
		b.runs, b.store, b.resolver = b.memory, b.memory, b.memory
	}

	switch cfg.Source {
	case config.SourceClickHouse:
		ch, err := repository.NewClickHouseStore(ctx, repository.ClickHouseConfig{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.closeFuncs = append(b.closeFuncs, func() { _ = ch.Close() })
		b.candles = ch
	case config.SourceArrow:
		b.candles = repository.BlobSource{Path: cfg.Arrow.Path}
	}
	return b, nil
}

func openTelemetry(cfg *config.Config, log *zap.Logger) (engine.Telemetry, func()) {
	publishers := telemetry.Fanout{telemetry.NewLogPublisher(log)}
	if len(cfg.Kafka.Brokers) == 0 {
		return publishers, func() {}
	}
	kafka := telemetry.NewKafkaPublisher(telemetry.KafkaConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		MaxRetries:   cfg.Kafka.MaxRetries,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	})
	return append(publishers, kafka), func() {
		if err := kafka.Close(); err != nil {
			log.Warn("close kafka writer", zap.Error(err))
		}
	}
}

// buildJobs uses the given run ids, or registers one ad-hoc run from the run
// section in the in-memory store.
func buildJobs(cfg *config.Config, opts options, b *backend) ([]types.Job, error) {
	mode := types.RunMode(opts.mode)
	if mode != types.ModeFresh && mode != types.ModeResume {
		return nil, fmt.Errorf("mode %q not supported", opts.mode)
	}
	if opts.runIDs != "" {
		var jobs []types.Job
		for _, id := range strings.Split(opts.runIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				jobs = append(jobs, types.Job{RunID: id, Mode: mode})
			}
		}
		return jobs, nil
	}
	if b.memory == nil {
		return nil, errors.New("-runs is required when runs are stored in postgres")
	}

	runCfg, err := cfg.Run.ToRunConfig()
	if err != nil {
		return nil, err
	}
	id := cfg.Run.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	b.memory.PutRun(types.Run{
		ID:         id,
		UserID:     cfg.Run.UserID,
		DatasetID:  cfg.Run.DatasetID,
		StrategyID: cfg.Run.Strategy,
		Seed:       cfg.Run.Seed,
		Status:     types.RunPending,
		Config:     runCfg,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return []types.Job{{
		RunID:      id,
		UserID:     cfg.Run.UserID,
		DatasetID:  cfg.Run.DatasetID,
		StrategyID: cfg.Run.Strategy,
		Seed:       cfg.Run.Seed,
		Mode:       types.ModeFresh,
	}}, nil
}

func exportArrow(ctx context.Context, cfg *config.Config, source engine.CandleSource, path string, log *zap.Logger) error {
	if cfg.Source == config.SourceArrow {
		return errors.New("export needs a postgres or clickhouse source")
	}
	runCfg, err := cfg.Run.ToRunConfig()
	if err != nil {
		return err
	}
	candles, err := source.LoadCandles(ctx, runCfg.Instruments, runCfg.Start, runCfg.End, runCfg.Interval)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := repository.WriteCandleBlob(f, candles); err != nil {
		_ = f.Close()
		return err
	}
	log.Info("exported candles", zap.String("path", path), zap.Int("candles", len(candles)))
	return f.Close()
}

func writeTrades(ctx context.Context, store engine.Persistence, runID, path string) error {
	results, err := store.LoadResults(ctx, runID)
	if err != nil {
		return err
	}
	return engine.WriteTradesCSVFile(path, results.Trades)
}

// csvPath suffixes the run id when several runs share one output flag.
func csvPath(path, runID string, runs int) string {
	if runs <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + runID + ext
}
