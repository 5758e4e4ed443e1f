package telemetry

import (
	"context"
	"errors"

	"cryptobacktester/types"
)

type Publisher interface {
	PublishStatus(ctx context.Context, runID string, status types.RunStatus, message string, payload any) error
	PublishMetric(ctx context.Context, runID string, name string, value float64, unit string) error
	PublishLog(ctx context.Context, runID string, level string, message string) error
}

// Fanout forwards every event to all publishers. One failing publisher does
// not stop the others; their errors are joined.
type Fanout []Publisher

func (f Fanout) PublishStatus(ctx context.Context, runID string, status types.RunStatus, message string, payload any) error {
	return f.each(func(p Publisher) error { return p.PublishStatus(ctx, runID, status, message, payload) })
}

func (f Fanout) PublishMetric(ctx context.Context, runID string, name string, value float64, unit string) error {
	return f.each(func(p Publisher) error { return p.PublishMetric(ctx, runID, name, value, unit) })
}

func (f Fanout) PublishLog(ctx context.Context, runID string, level string, message string) error {
	return f.each(func(p Publisher) error { return p.PublishLog(ctx, runID, level, message) })
}

func (f Fanout) each(fn func(Publisher) error) error {
	var errs []error
	for _, p := range f {
		if err := fn(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
