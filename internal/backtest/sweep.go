package backtest

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/horaciomoreno100/deriv-bot-sub005/internal/candle"
	"github.com/horaciomoreno100/deriv-bot-sub005/internal/indicator"
)

// Job is one configuration of a parameter sweep.
type Job struct {
	Name   string
	Config Config
}

// JobResult pairs a job with its outcome. Err is set when the job itself failed.
type JobResult struct {
	Job    Job
	Result Result
	Err    error
}

// Sweep runs jobs over shared read-only history on a bounded worker pool. Each
// job builds its own simulator state. Results keep the order of jobs; a failed
// job does not stop the others. The returned error is the context error, if any.
func Sweep(ctx context.Context, candles []candle.Candle, snaps []indicator.Snapshot, jobs []Job, workers int) ([]JobResult, error) {
	if err := Validate(candles, snaps); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = JobResult{Job: job}
			sim, err := New(job.Config)
			if err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = sim.Run(candles, snaps)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
