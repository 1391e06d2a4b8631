package correction

import (
	"context"

	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
)

// DefaultGroupSize is how many readings are corrected concurrently.
const DefaultGroupSize = 10

// InputsFunc gathers the context for one reading.
type InputsFunc func(ctx context.Context, reading models.DepthReading) (Inputs, error)

// ProcessBatch corrects readings in fixed-size groups. Readings within a
// group run concurrently; groups run one after another. Each reading gets its
// own outcome, so one failed lookup never fails the batch. Readings not
// started before ctx ends report ctx.Err().
func (e *Engine) ProcessBatch(ctx context.Context, readings []models.DepthReading, inputs InputsFunc) []gate.Outcome[models.ProcessedDepthReading] {
	start := e.clock.Now()
	defer func() {
		e.metrics.BatchDuration.Observe(e.clock.Since(start).Seconds())
	}()

	group := gate.New(e.groupSize)
	out := make([]gate.Outcome[models.ProcessedDepthReading], 0, len(readings))
	for lo := 0; lo < len(readings); lo += e.groupSize {
		hi := min(lo+e.groupSize, len(readings))
		if err := ctx.Err(); err != nil {
			for range readings[lo:] {
				out = append(out, gate.Outcome[models.ProcessedDepthReading]{Err: err})
			}
			break
		}

		tasks := make([]func(context.Context) (models.ProcessedDepthReading, error), 0, hi-lo)
		for _, r := range readings[lo:hi] {
			tasks = append(tasks, func(ctx context.Context) (models.ProcessedDepthReading, error) {
				in, err := inputs(ctx, r)
				if err != nil {
					e.logger.Warn("gathering correction inputs failed", "reading", r.ID, "error", err)
					return models.ProcessedDepthReading{}, err
				}
				return e.Process(r, in), nil
			})
		}
		out = append(out, gate.RunAll(ctx, group, tasks)...)
	}
	return out
}
