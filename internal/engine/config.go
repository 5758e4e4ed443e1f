package engine

const (
	defaultCheckpointEvery = 500
	defaultSnapshotEvery   = 24
	defaultHeartbeatEvery  = 50
	defaultRiskFreeRate    = 0.02
)

// Config holds engine-level settings shared by every run an Engine executes.
type Config struct {
	CheckpointEvery int
	SnapshotEvery   int
	HeartbeatEvery  int
	LookbackBars    int
	Reporting       ReportingConfig
	ShowProgress    bool
}

func NewConfig(checkpointEvery, snapshotEvery, heartbeatEvery, lookbackBars int) Config {
	cfg := Config{
		CheckpointEvery: checkpointEvery,
		SnapshotEvery:   snapshotEvery,
		HeartbeatEvery:  heartbeatEvery,
		LookbackBars:    lookbackBars,
		Reporting:       NewReportingConfig(defaultRiskFreeRate, 0),
	}
	return cfg.withDefaults()
}

func DefaultConfig() Config {
	return NewConfig(defaultCheckpointEvery, defaultSnapshotEvery, defaultHeartbeatEvery, 0)
}

func (c Config) withDefaults() Config {
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = defaultCheckpointEvery
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = defaultSnapshotEvery
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.LookbackBars < 0 {
		c.LookbackBars = 0
	}
	return c
}

type ReportingConfig struct {
	// RiskFreeRate is subtracted from the mean return as given. It is an
	// annual rate when AnnualizationFactor is set, a per-period rate otherwise.
	RiskFreeRate float64
	// AnnualizationFactor is periods per year; 0 leaves volatility and Sharpe per-period.
	AnnualizationFactor float64
}

func NewReportingConfig(riskFreeRate, annualizationFactor float64) ReportingConfig {
	return ReportingConfig{
		RiskFreeRate:        riskFreeRate,
		AnnualizationFactor: annualizationFactor,
	}
}
