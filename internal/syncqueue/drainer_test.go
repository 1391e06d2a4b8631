package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/store"
)

var errOffline = errors.New("remote unreachable")

type fakeSubmitter struct {
	mu   sync.Mutex
	seen []string
	fail func(store.SyncItem) bool
}

func (f *fakeSubmitter) Submit(_ context.Context, item store.SyncItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, string(item.Payload))
	if f.fail != nil && f.fail(item) {
		return errOffline
	}
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

type countingQueue struct {
	*store.Memory
	peeks int
}

func (q *countingQueue) Peek(ctx context.Context, limit int) ([]store.SyncItem, error) {
	q.peeks++
	return q.Memory.Peek(ctx, limit)
}

func newTestDrainer(t *testing.T, sub Submitter) (*Drainer, *store.Memory, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	mem := store.NewMemory(clock)
	metrics := observability.NewMetricsForTesting()
	d := NewDrainer(mem, sub, Options{}, clock, observability.Discard(), metrics)
	return d, mem, clock, metrics
}

func enqueueN(t *testing.T, d *Drainer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := d.Enqueue(context.Background(), "reading.submit", []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, err)
	}
}

func TestDrain_SubmitsInOrder(t *testing.T) {
	sub := &fakeSubmitter{}
	d, mem, _, metrics := newTestDrainer(t, sub)
	enqueueN(t, d, 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SyncQueueDepth))

	res, err := d.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Submitted)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"0", "1", "2"}, sub.seen)

	n, _ := mem.Len(context.Background())
	assert.Zero(t, n)
	assert.Zero(t, testutil.ToFloat64(metrics.SyncQueueDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SyncAttempts.WithLabelValues("success")))
}

func TestDrain_BatchesOfFifty(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := &countingQueue{Memory: store.NewMemory(clock)}
	sub := &fakeSubmitter{}
	d := NewDrainer(q, sub, Options{}, clock, observability.Discard(), nil)
	enqueueN(t, d, 120)

	res, err := d.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 120, res.Submitted)
	assert.Equal(t, 3, q.peeks, "120 items should take three batches")
	assert.Zero(t, res.Remaining)
}

func TestDrain_FailureStopsPassAfterBatch(t *testing.T) {
	sub := &fakeSubmitter{fail: func(item store.SyncItem) bool { return string(item.Payload) == "0" }}
	d, mem, _, _ := newTestDrainer(t, sub)
	enqueueN(t, d, 60)

	res, err := d.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 49, res.Submitted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 11, res.Remaining)

	items, _ := mem.Peek(context.Background(), 1)
	require.Len(t, items, 1)
	assert.Equal(t, "0", string(items[0].Payload), "failed item keeps its place at the head")
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, errOffline.Error(), items[0].LastError)
}

func TestDrain_AttemptsAccumulateUntilPurge(t *testing.T) {
	sub := &fakeSubmitter{fail: func(store.SyncItem) bool { return true }}
	d, mem, clock, metrics := newTestDrainer(t, sub)
	enqueueN(t, d, 1)
	ctx := context.Background()

	for pass := 1; pass <= 4; pass++ {
		res, err := d.Drain(ctx)
		require.NoError(t, err)
		require.Len(t, res.Failed, 1)
		assert.Equal(t, pass, res.Failed[0].Attempts)
		assert.Zero(t, res.Purged, "young items are never purged")
		clock.Advance(time.Hour)
	}

	clock.Advance(8 * 24 * time.Hour)
	res, err := d.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)

	n, _ := mem.Len(ctx)
	assert.Zero(t, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SyncAttempts.WithLabelValues("purged")))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.SyncAttempts.WithLabelValues("failure")))
}

func TestDrain_OldItemWithFewAttemptsIsKept(t *testing.T) {
	sub := &fakeSubmitter{fail: func(store.SyncItem) bool { return true }}
	d, mem, clock, _ := newTestDrainer(t, sub)
	enqueueN(t, d, 1)

	clock.Advance(30 * 24 * time.Hour)
	res, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Purged)

	n, _ := mem.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestSyncError_Unwrap(t *testing.T) {
	err := &SyncError{ItemID: "abc", Type: "reading.submit", Attempts: 2, Err: errOffline}
	assert.ErrorIs(t, err, errOffline)
	assert.Contains(t, err.Error(), "abc")
	assert.Contains(t, err.Error(), "attempt 2")
}

func TestRun_DrainsWhenNotified(t *testing.T) {
	sub := &fakeSubmitter{}
	d, mem, _, _ := newTestDrainer(t, sub)
	enqueueN(t, d, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.NotifyOnline()
	require.Eventually(t, func() bool {
		n, _ := mem.Len(context.Background())
		return n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5, sub.count())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestHTTPSubmitter(t *testing.T) {
	var (
		gotBody   string
		gotKey    string
		gotType   string
		gotMethod string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody, gotKey, gotType, gotMethod = string(b), r.Header.Get("Idempotency-Key"), r.Header.Get("X-Sync-Type"), r.Method
		if gotType == "reading.reject" {
			http.Error(w, "validation failed", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s := NewHTTPSubmitter(server.URL)
	item := store.SyncItem{ID: "id-1", Type: "reading.submit", Payload: []byte(`{"depth":10}`)}
	require.NoError(t, s.Submit(context.Background(), item))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"depth":10}`, gotBody)
	assert.Equal(t, "id-1", gotKey)
	assert.Equal(t, "reading.submit", gotType)

	item.Type = "reading.reject"
	err := s.Submit(context.Background(), item)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "validation failed")
}

func TestHTTPSubmitter_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewHTTPSubmitter(url).Submit(context.Background(), store.SyncItem{ID: "x", Type: "reading.submit"})
	assert.Error(t, err)
}
