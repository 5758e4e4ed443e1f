// Package config loads CLI configuration. BACKTEST_ environment variables
// override the config file, which overrides the defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptobacktester/internal/logger"
	"cryptobacktester/types"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const envPrefix = "BACKTEST"

type Source string

const (
	SourcePostgres   Source = "postgres"
	SourceClickHouse Source = "clickhouse"
	SourceArrow      Source = "arrow"
)

type Config struct {
	Source     Source           `mapstructure:"source"`
	Database   DatabaseConfig   `mapstructure:"database"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Arrow      ArrowConfig      `mapstructure:"arrow"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Run        RunConfig        `mapstructure:"run"`
	Logger     logger.Config    `mapstructure:"logger"`
}

// DatabaseConfig is the Postgres store. Without a DSN runs, results and
// checkpoints are kept in memory.
type DatabaseConfig struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Table    string `mapstructure:"table"`
}

type ArrowConfig struct {
	Path string `mapstructure:"path"`
}

// KafkaConfig enables the Kafka telemetry publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	MaxRetries   int           `mapstructure:"max_retries"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type EngineConfig struct {
	CheckpointEvery     int     `mapstructure:"checkpoint_every"`
	SnapshotEvery       int     `mapstructure:"snapshot_every"`
	HeartbeatEvery      int     `mapstructure:"heartbeat_every"`
	LookbackBars        int     `mapstructure:"lookback_bars"`
	// RiskFreeRate is annual when an annualization factor applies and
	// per snapshot period otherwise.
	RiskFreeRate        float64 `mapstructure:"risk_free_rate"`
	AnnualizationFactor float64 `mapstructure:"annualization_factor"`
	// Annualize derives the annualization factor from run.interval and
	// snapshot_every when annualization_factor is zero.
	Annualize    bool `mapstructure:"annualize"`
	ShowProgress bool `mapstructure:"show_progress"`
	Concurrency  int  `mapstructure:"concurrency"`
}

// RunConfig describes an ad-hoc run created by the CLI when no run row
// exists yet.
type RunConfig struct {
	ID              string         `mapstructure:"id"`
	UserID          string         `mapstructure:"user_id"`
	DatasetID       string         `mapstructure:"dataset_id"`
	Strategy        string         `mapstructure:"strategy"`
	Seed            string         `mapstructure:"seed"`
	Instruments     []string       `mapstructure:"instruments"`
	InitialCapital  string         `mapstructure:"initial_capital"`
	FeeRate         string         `mapstructure:"fee_rate"`
	Start           string         `mapstructure:"start"`
	End             string         `mapstructure:"end"`
	Interval        string         `mapstructure:"interval"`
	SlippageMode    string         `mapstructure:"slippage_mode"`
	SlippageBps     float64        `mapstructure:"slippage_bps"`
	ImpactFactor    float64        `mapstructure:"impact_factor"`
	MaxSlippageBps  float64        `mapstructure:"max_slippage_bps"`
	CooldownMs      int64          `mapstructure:"cooldown_ms"`
	MaxTradesPerDay int            `mapstructure:"max_trades_per_day"`
	MinSellPercent  float64        `mapstructure:"min_sell_percent"`
	StrategyParams  map[string]any `mapstructure:"strategy_params"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", string(SourcePostgres))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", false)
	v.SetDefault("clickhouse.addr", "localhost:9000")
	v.SetDefault("clickhouse.database", "backtest")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("clickhouse.table", "")
	v.SetDefault("arrow.path", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "backtest-events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("engine.checkpoint_every", 500)
	v.SetDefault("engine.snapshot_every", 24)
	v.SetDefault("engine.heartbeat_every", 50)
	v.SetDefault("engine.lookback_bars", 0)
	v.SetDefault("engine.risk_free_rate", 0.02)
	v.SetDefault("engine.annualization_factor", 0)
	v.SetDefault("engine.annualize", false)
	v.SetDefault("engine.show_progress", false)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("run.id", "")
	v.SetDefault("run.user_id", "cli")
	v.SetDefault("run.dataset_id", "")
	v.SetDefault("run.strategy", "donchian")
	v.SetDefault("run.seed", "seed")
	v.SetDefault("run.instruments", []string{})
	v.SetDefault("run.initial_capital", "10000")
	v.SetDefault("run.fee_rate", "0.001")
	v.SetDefault("run.start", "")
	v.SetDefault("run.end", "")
	v.SetDefault("run.interval", string(types.Hour))
	v.SetDefault("run.slippage_mode", string(types.SlippageFixed))
	v.SetDefault("run.slippage_bps", 5)
	v.SetDefault("run.impact_factor", 0)
	v.SetDefault("run.max_slippage_bps", 0)
	v.SetDefault("run.cooldown_ms", 0)
	v.SetDefault("run.max_trades_per_day", 0)
	v.SetDefault("run.min_sell_percent", 0)
	v.SetDefault("run.strategy_params", map[string]any{})
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file_path", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 30)
	v.SetDefault("logger.compress", true)
}

// Load reads path (any format viper understands) when it is non-empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Source {
	case SourcePostgres:
		if c.Database.DSN == "" {
			return errors.New("source postgres requires database.dsn")
		}
	case SourceClickHouse:
		if c.ClickHouse.Addr == "" {
			return errors.New("source clickhouse requires clickhouse.addr")
		}
	case SourceArrow:
		if c.Arrow.Path == "" {
			return errors.New("source arrow requires arrow.path")
		}
	default:
		return fmt.Errorf("unknown source %q", c.Source)
	}
	if c.Engine.Annualize && c.Engine.AnnualizationFactor == 0 {
		if _, err := types.ParseInterval(c.Run.Interval); err != nil {
			return fmt.Errorf("engine.annualize needs a valid run.interval: %w", err)
		}
	}
	if c.Engine.Concurrency < 1 {
		return errors.New("engine.concurrency must be at least 1")
	}
	return nil
}

// ToRunConfig converts the ad-hoc run section into the snapshot stored on a run.
func (r RunConfig) ToRunConfig() (types.RunConfig, error) {
	capital, err := decimal.NewFromString(r.InitialCapital)
	if err != nil {
		return types.RunConfig{}, fmt.Errorf("run.initial_capital: %w", err)
	}
	fee, err := decimal.NewFromString(r.FeeRate)
	if err != nil {
		return types.RunConfig{}, fmt.Errorf("run.fee_rate: %w", err)
	}
	start, err := parseTime(r.Start)
	if err != nil {
		return types.RunConfig{}, fmt.Errorf("run.start: %w", err)
	}
	end, err := parseTime(r.End)
	if err != nil {
		return types.RunConfig{}, fmt.Errorf("run.end: %w", err)
	}
	interval, err := types.ParseInterval(r.Interval)
	if err != nil {
		return types.RunConfig{}, fmt.Errorf("run.interval: %w", err)
	}
	return types.RunConfig{
		InitialCapital: capital,
		FeeRate:        fee,
		Start:          start,
		End:            end,
		Interval:       interval,
		Slippage: types.SlippageConfig{
			Mode:     types.SlippageMode(r.SlippageMode),
			FixedBps: r.SlippageBps,
			BaseBps:  r.SlippageBps,
			// volume impact is measured against the initial capital
			ImpactFactor:      r.ImpactFactor,
			ReferenceNotional: capital.InexactFloat64(),
			MaxBps:            r.MaxSlippageBps,
		},
		Throttle: types.ThrottleConfig{
			CooldownMs:      r.CooldownMs,
			MaxTradesPerDay: r.MaxTradesPerDay,
			MinSellPercent:  r.MinSellPercent,
		},
		StrategyParams: r.StrategyParams,
		Instruments:    r.Instruments,
	}, nil
}

// AnnualizationFactor is the number of snapshot periods per year.
func (c *Config) AnnualizationFactor() float64 {
	if c.Engine.AnnualizationFactor != 0 || !c.Engine.Annualize {
		return c.Engine.AnnualizationFactor
	}
	interval, err := types.ParseInterval(c.Run.Interval)
	if err != nil || c.Engine.SnapshotEvery <= 0 {
		return 0
	}
	return interval.PeriodsPerYear() / float64(c.Engine.SnapshotEvery)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, s)
}
