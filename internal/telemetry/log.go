package telemetry

import (
	"context"

	"cryptobacktester/types"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogPublisher writes telemetry to a zap logger. It is used when no broker is
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("telemetry")}
}

func (p *LogPublisher) PublishStatus(_ context.Context, runID string, status types.RunStatus, message string, payload any) error {
	p.logger.Info("status",
		zap.String("run_id", runID),
		zap.String("status", string(status)),
		zap.String("message", message),
		zap.Any("payload", payload))
	return nil
}

func (p *LogPublisher) PublishMetric(_ context.Context, runID string, name string, value float64, unit string) error {
	p.logger.Info("metric",
		zap.String("run_id", runID),
		zap.String("name", name),
		zap.Float64("value", value),
		zap.String("unit", unit))
	return nil
}

// PublishLog maps unknown levels to info.
func (p *LogPublisher) PublishLog(_ context.Context, runID string, level string, message string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if ce := p.logger.Check(lvl, message); ce != nil {
		ce.Write(zap.String("run_id", runID))
	}
	return nil
}
