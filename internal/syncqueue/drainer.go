// Package syncqueue drains locally queued mutations to the remote API once
// connectivity returns.
package syncqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/store"
)

// Defaults for the drain and purge policy.
const (
	DefaultBatchSize     = 50
	DefaultMaxAge        = 7 * 24 * time.Hour
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 5 * time.Minute
)

// Submitter delivers one queued item to the remote API.
type Submitter interface {
	Submit(ctx context.Context, item store.SyncItem) error
}

// SyncError records a failed submission. The item stays queued.
type SyncError struct {
	ItemID   string
	Type     string
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync item %s (%s) attempt %d: %v", e.ItemID, e.Type, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Result summarises one drain pass.
type Result struct {
	Submitted int
	Failed    []*SyncError
	Purged    int
	Remaining int
}

// Options tunes a Drainer. Zero values take the defaults.
type Options struct {
	BatchSize     int
	MaxAge        time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	return o
}

// Drainer moves items from a store.Queue to a Submitter, oldest first.
type Drainer struct {
	queue     store.Queue
	submitter Submitter
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	online chan struct{}
}

// NewDrainer creates a drainer.
func NewDrainer(q store.Queue, s Submitter, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Drainer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		queue:     q,
		submitter: s,
		opts:      opts.withDefaults(),
		clock:     clock,
		logger:    logger,
		metrics:   observability.OrNop(metrics),
		online:    make(chan struct{}, 1),
	}
}

// Enqueue stores a mutation for later submission.
func (d *Drainer) Enqueue(ctx context.Context, itemType string, payload []byte) (store.SyncItem, error) {
	item, err := d.queue.Enqueue(ctx, itemType, payload)
	if err != nil {
		return store.SyncItem{}, fmt.Errorf("queueing %s: %w", itemType, err)
	}
	d.updateDepth(ctx)
	d.logger.Info("queued for sync", "id", item.ID, "type", itemType)
	return item, nil
}

// NotifyOnline asks Run to start a pass now. It never blocks.
func (d *Drainer) NotifyOnline() {
	select {
	case d.online <- struct{}{}:
	default:
	}
}

// Drain runs one pass. Batches are taken from the head of the queue until a
// batch has a failure or the queue is empty; failed items keep their place
// and wait for the next pass. The purge policy runs at the end of every pass.
func (d *Drainer) Drain(ctx context.Context) (Result, error) {
	var res Result
	for {
		items, err := d.queue.Peek(ctx, d.opts.BatchSize)
		if err != nil {
			return res, fmt.Errorf("reading sync queue: %w", err)
		}
		if len(items) == 0 {
			break
		}

		failed := 0
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if serr := d.submit(ctx, item); serr != nil {
				res.Failed = append(res.Failed, serr)
				failed++
				continue
			}
			res.Submitted++
		}
		if failed > 0 || len(items) < d.opts.BatchSize {
			break
		}
	}

	purged, err := d.queue.Purge(ctx, d.opts.MaxAge, d.opts.MaxAttempts)
	if err != nil {
		return res, fmt.Errorf("purging sync queue: %w", err)
	}
	if purged > 0 {
		d.metrics.SyncAttempts.WithLabelValues("purged").Add(float64(purged))
		d.logger.Warn("purged undeliverable sync items", "count", purged)
	}
	res.Purged = purged
	res.Remaining = d.updateDepth(ctx)
	return res, nil
}

func (d *Drainer) submit(ctx context.Context, item store.SyncItem) *SyncError {
	err := d.submitter.Submit(ctx, item)
	if err == nil {
		d.metrics.SyncAttempts.WithLabelValues("success").Inc()
		if rerr := d.queue.Remove(ctx, item.ID); rerr != nil {
			d.logger.Error("removing synced item failed", "id", item.ID, "error", rerr)
		}
		return nil
	}

	d.metrics.SyncAttempts.WithLabelValues("failure").Inc()
	if rerr := d.queue.RecordFailure(ctx, item.ID, err.Error()); rerr != nil {
		d.logger.Error("recording sync failure failed", "id", item.ID, "error", rerr)
	}
	serr := &SyncError{ItemID: item.ID, Type: item.Type, Attempts: item.Attempts + 1, Err: err}
	d.logger.Warn("sync submission failed", "id", item.ID, "type", item.Type, "attempts", serr.Attempts, "error", err)
	return serr
}

func (d *Drainer) updateDepth(ctx context.Context) int {
	n, err := d.queue.Len(ctx)
	if err != nil {
		d.logger.Warn("reading sync queue depth failed", "error", err)
		return 0
	}
	d.metrics.SyncQueueDepth.Set(float64(n))
	return n
}

// Run drains on every NotifyOnline and every retry interval until ctx is
// cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.opts.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.online:
		case <-ticker.Chan():
		}
		res, err := d.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("sync drain failed", "error", err)
			continue
		}
		if res.Submitted > 0 || len(res.Failed) > 0 || res.Purged > 0 {
			d.logger.Info("sync drain pass",
				"submitted", res.Submitted,
				"failed", len(res.Failed),
				"purged", res.Purged,
				"remaining", res.Remaining,
			)
		}
	}
}
