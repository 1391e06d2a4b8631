package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_LimitsConcurrency(t *testing.T) {
	g := New(5)

	var running, maxSeen atomic.Int32
	tasks := make([]func(ctx context.Context) (int, error), 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return i, nil
		}
	}

	out := RunAll(context.Background(), g, tasks)

	require.Len(t, out, 20)
	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, i, o.Value)
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(5))
	assert.LessOrEqual(t, g.Peak(), 5)
	assert.Equal(t, 0, g.InFlight())
}

func TestRunAll_PartialFailure(t *testing.T) {
	g := New(2)
	boom := errors.New("upstream 503")

	out := RunAll(context.Background(), g, []func(ctx context.Context) (string, error){
		func(ctx context.Context) (string, error) { return "tide", nil },
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context) (string, error) { return "weather", nil },
	})

	assert.Equal(t, "tide", out[0].Value)
	assert.NoError(t, out[0].Err)
	assert.ErrorIs(t, out[1].Err, boom)
	assert.Equal(t, "weather", out[2].Value)
	assert.NoError(t, out[2].Err)
}

func TestGate_WaitRespectsContext(t *testing.T) {
	g := New(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = g.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := g.Do(ctx, func(ctx context.Context) error {
		called = true
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)
}

func TestNew_DefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, New(0).Limit())
}

func TestRunAll_NilGateRunsEverythingAtOnce(t *testing.T) {
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	boom := errors.New("met sensors offline")

	tasks := make([]func(ctx context.Context) (int, error), n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			started.Done()
			// every task waits for all the others, so this only returns when
			// none of them is held back
			started.Wait()
			if i == 2 {
				return 0, boom
			}
			return i * 10, nil
		}
	}

	done := make(chan []Outcome[int])
	go func() { done <- RunAll(context.Background(), nil, tasks) }()

	select {
	case out := <-done:
		require.Len(t, out, n)
		assert.Equal(t, 30, out[3].Value)
		assert.ErrorIs(t, out[2].Err, boom)
		assert.NoError(t, out[0].Err)
	case <-time.After(3 * time.Second):
		t.Fatal("tasks did not run concurrently")
	}
}
