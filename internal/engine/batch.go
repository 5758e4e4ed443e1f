package engine

import (
	"context"

	"cryptobacktester/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type BatchResult struct {
	Job    types.Job
	Report *Report
	Err    error
}

// RunBatch runs independent jobs with at most limit in flight. A failing job
// does not stop the others; each outcome is in the matching result slot.
func (e *Engine) RunBatch(ctx context.Context, jobs []types.Job, limit int) []BatchResult {
	results := make([]BatchResult, len(jobs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			report, err := e.Run(ctx, job)
			results[i] = BatchResult{Job: job, Report: report, Err: err}
			if err != nil {
				e.logger.Warn("batch job ended with error", zap.String("run_id", job.RunID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
