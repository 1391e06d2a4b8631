package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Memory is an in-process Store and Queue. Nothing survives a restart, so it
// suits tests and ephemeral deployments.
type Memory struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]Entry
	queue   []SyncItem
}

// NewMemory returns an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{clock: clock, entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.Expired(m.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *Memory) Put(_ context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = copyEntry(e)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.Now()
	var out []Entry
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) && !e.Expired(now) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	n := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Enqueue(_ context.Context, itemType string, payload []byte) (SyncItem, error) {
	item := SyncItem{
		ID:         uuid.NewString(),
		Type:       itemType,
		Payload:    append([]byte{}, payload...),
		EnqueuedAt: m.clock.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, item)
	return item, nil
}

func (m *Memory) Peek(_ context.Context, limit int) ([]SyncItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(limit, len(m.queue))
	out := make([]SyncItem, n)
	copy(out, m.queue[:n])
	return out, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, item := range m.queue {
		if item.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) RecordFailure(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.queue {
		if m.queue[i].ID == id {
			m.queue[i].Attempts++
			m.queue[i].LastAttempt = m.clock.Now()
			m.queue[i].LastError = reason
			return nil
		}
	}
	return fmt.Errorf("sync item %s: %w", id, ErrNotFound)
}

func (m *Memory) Purge(_ context.Context, maxAge time.Duration, maxAttempts int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	kept := m.queue[:0]
	purged := 0
	for _, item := range m.queue {
		if purgeable(item, now, maxAge, maxAttempts) {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	m.queue = kept
	return purged, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue), nil
}

func copyEntry(e Entry) Entry {
	e.Payload = append([]byte{}, e.Payload...)
	return e
}
