// Package store is the local persistence layer: a key-value store with
// per-entry TTL and a durable FIFO queue of pending outbound mutations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for missing or expired keys.
	ErrNotFound = errors.New("cache miss")
	// ErrCacheUnavailable wraps any failure of the underlying storage.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrInvalidEntry is returned when an entry would expire before it was cached.
	ErrInvalidEntry = errors.New("expires_at must be at least 1ms after cached_at")
)

// Entry is a cached value. ExpiresAt is always after CachedAt.
type Entry struct {
	Key       string
	Payload   []byte
	Source    string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

func (e Entry) validate() error {
	if e.Key == "" {
		return errors.New("entry key is required")
	}
	// Backends keep timestamps to the millisecond.
	if e.ExpiresAt.UnixMilli() <= e.CachedAt.UnixMilli() {
		return ErrInvalidEntry
	}
	return nil
}

// Store is a key-value store with TTL. Reads past expiry are misses.
// Implementations make each Get and Put atomic per key.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// ScanPrefix returns unexpired entries whose key starts with prefix, ordered by key.
	ScanPrefix(ctx context.Context, prefix string) ([]Entry, error)
	// PurgeExpired deletes every expired entry and returns how many went.
	PurgeExpired(ctx context.Context) (int, error)
	Close() error
}

// SyncItem is an outbound mutation waiting for the remote API.
type SyncItem struct {
	ID          string
	Type        string
	Payload     []byte
	EnqueuedAt  time.Time
	Attempts    int
	LastAttempt time.Time
	LastError   string
}

// Queue is a durable FIFO of SyncItems. Items leave the queue only through
// Remove (confirmed success) or Purge.
type Queue interface {
	Enqueue(ctx context.Context, itemType string, payload []byte) (SyncItem, error)
	// Peek returns up to limit items, oldest first, without removing them.
	Peek(ctx context.Context, limit int) ([]SyncItem, error)
	Remove(ctx context.Context, id string) error
	// RecordFailure increments the attempt counter and stamps the attempt time.
	RecordFailure(ctx context.Context, id, reason string) error
	// Purge removes items enqueued more than maxAge ago that have also made
	// more than maxAttempts attempts. Both conditions must hold.
	Purge(ctx context.Context, maxAge time.Duration, maxAttempts int) (int, error)
	Len(ctx context.Context) (int, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCacheUnavailable, err)
}

func purgeable(item SyncItem, now time.Time, maxAge time.Duration, maxAttempts int) bool {
	return now.Sub(item.EnqueuedAt) > maxAge && item.Attempts > maxAttempts
}
