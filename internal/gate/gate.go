// Package gate bounds how many upstream provider requests run at once.
package gate

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the number of provider fetches allowed in flight.
const DefaultLimit = 5

// Gate is a counting semaphore shared by every upstream client in a pipeline.
// Callers over the limit wait rather than fire.
type Gate struct {
	sem   *semaphore.Weighted
	limit int64

	mu       sync.Mutex
	inFlight int64
	peak     int64
}

// New returns a gate admitting at most limit concurrent calls.
func New(limit int) *Gate {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit)), limit: int64(limit)}
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context ends
// while waiting.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.track(1)
	defer func() {
		g.track(-1)
		g.sem.Release(1)
	}()
	return fn(ctx)
}

func (g *Gate) track(delta int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight += delta
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
}

// InFlight returns the number of calls currently holding a slot.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.inFlight)
}

// Peak returns the highest concurrency observed.
func (g *Gate) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.peak)
}

// Limit returns the configured slot count.
func (g *Gate) Limit() int {
	return int(g.limit)
}

// Outcome is the result of one task in a group.
type Outcome[T any] struct {
	Value T
	Err   error
}

// RunAll runs every task through the gate concurrently and returns one
// outcome per task, in task order. A failing task never cancels the others.
// A nil gate runs all tasks at once.
func RunAll[T any](ctx context.Context, g *Gate, tasks []func(ctx context.Context) (T, error)) []Outcome[T] {
	out := make([]Outcome[T], len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run := func(ctx context.Context) error {
				v, err := task(ctx)
				out[i].Value = v
				return err
			}
			if g == nil {
				out[i].Err = run(ctx)
				return
			}
			out[i].Err = g.Do(ctx, run)
		}()
	}
	wg.Wait()
	return out
}
