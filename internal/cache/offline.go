// Package cache is the offline cache: typed keyspaces with per-kind TTLs over
// a store.Store, plus the periodic maintenance purge.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/store"
)

// Kind names a keyspace. The kind is the key prefix.
type Kind string

const (
	KindStation        Kind = "station"
	KindStations       Kind = "stations"
	KindPredictions    Kind = "prediction"
	KindWaterLevels    Kind = "waterlevel"
	KindMeteorological Kind = "met"
	KindWeather        Kind = "weather"
	KindForecast       Kind = "forecast"
	KindAlerts         Kind = "alerts"
	KindProcessed      Kind = "processed"
)

// TTLs holds the time-to-live per kind.
type TTLs map[Kind]time.Duration

// DefaultTTLs returns the standard lifetimes. Observed data is far more
// time-sensitive than predictions, and station metadata barely changes.
func DefaultTTLs() TTLs {
	return TTLs{
		KindStation:        24 * time.Hour,
		KindStations:       24 * time.Hour,
		KindPredictions:    time.Hour,
		KindWaterLevels:    15 * time.Minute,
		KindMeteorological: 15 * time.Minute,
		KindWeather:        15 * time.Minute,
		KindForecast:       90 * time.Minute,
		KindAlerts:         45 * time.Minute,
		KindProcessed:      7 * 24 * time.Hour,
	}
}

// Key builds the store key for an id within a kind.
func Key(kind Kind, id string) string {
	return string(kind) + ":" + id
}

// Meta describes where a cached value came from.
type Meta struct {
	Source    string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Offline is the typed cache facade. Storage failures are logged and
// reported as misses so the online path carries on without caching.
type Offline struct {
	store   store.Store
	ttls    TTLs
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New wraps s. Missing TTL kinds fall back to DefaultTTLs.
func New(s store.Store, ttls TTLs, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Offline {
	merged := DefaultTTLs()
	for k, v := range ttls {
		if v > 0 {
			merged[k] = v
		}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Offline{
		store:   s,
		ttls:    merged,
		clock:   clock,
		logger:  logger,
		metrics: observability.OrNop(metrics),
	}
}

// TTL returns the lifetime used for kind.
func (o *Offline) TTL(kind Kind) time.Duration {
	return o.ttls[kind]
}

// Get decodes the cached value for kind/id into v. It reports false on a
// miss, an expired entry, or a storage failure.
func (o *Offline) Get(ctx context.Context, kind Kind, id string, v any) (Meta, bool) {
	e, err := o.store.Get(ctx, Key(kind, id))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			o.storageError("cache read failed", kind, id, err)
		}
		o.metrics.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
		return Meta{}, false
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		o.logger.Warn("discarding undecodable cache entry", "key", e.Key, "error", err)
		_ = o.store.Delete(ctx, e.Key)
		o.metrics.CacheLookups.WithLabelValues(string(kind), "miss").Inc()
		return Meta{}, false
	}
	o.metrics.CacheLookups.WithLabelValues(string(kind), "hit").Inc()
	return Meta{Source: e.Source, CachedAt: e.CachedAt, ExpiresAt: e.ExpiresAt}, true
}

// Put stores v under kind/id with the kind's TTL.
func (o *Offline) Put(ctx context.Context, kind Kind, id, source string, v any) {
	o.PutTTL(ctx, kind, id, source, o.ttls[kind], v)
}

// PutTTL stores v with an explicit lifetime.
func (o *Offline) PutTTL(ctx context.Context, kind Kind, id, source string, ttl time.Duration, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("encoding cache entry", "kind", kind, "id", id, "error", err)
		return
	}
	now := o.clock.Now()
	err = o.store.Put(ctx, store.Entry{
		Key:       Key(kind, id),
		Payload:   payload,
		Source:    source,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		o.storageError("cache write failed", kind, id, err)
	}
}

// Invalidate drops kind/id.
func (o *Offline) Invalidate(ctx context.Context, kind Kind, id string) {
	if err := o.store.Delete(ctx, Key(kind, id)); err != nil {
		o.storageError("cache delete failed", kind, id, err)
	}
}

// List returns the raw unexpired entries of a kind, keyed by id.
func (o *Offline) List(ctx context.Context, kind Kind) (map[string]store.Entry, error) {
	prefix := string(kind) + ":"
	entries, err := o.store.ScanPrefix(ctx, prefix)
	if err != nil {
		o.metrics.CacheErrors.Inc()
		return nil, err
	}
	out := make(map[string]store.Entry, len(entries))
	for _, e := range entries {
		out[strings.TrimPrefix(e.Key, prefix)] = e
	}
	return out, nil
}

// Maintain deletes every expired entry.
func (o *Offline) Maintain(ctx context.Context) (int, error) {
	n, err := o.store.PurgeExpired(ctx)
	if err != nil {
		o.metrics.CacheErrors.Inc()
		return 0, err
	}
	o.metrics.CachePurged.Add(float64(n))
	if n > 0 {
		o.logger.Info("purged expired cache entries", "count", n)
	}
	return n, nil
}

// RunMaintenance calls Maintain every interval until ctx is cancelled.
func (o *Offline) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := o.Maintain(ctx); err != nil {
				o.logger.Error("cache maintenance failed", "error", err)
			}
		}
	}
}

func (o *Offline) storageError(msg string, kind Kind, id string, err error) {
	o.metrics.CacheErrors.Inc()
	o.logger.Warn(msg, "kind", kind, "id", id, "error", err)
}
