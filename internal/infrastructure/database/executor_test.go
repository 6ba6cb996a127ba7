package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

// fakeDriver is a func-field Driver double.
type fakeDriver struct {
	mu         sync.Mutex
	queryCalls []common.Query
	queryFunc  func(call int, q common.Query) ([]common.Row, error)
	alive      atomic.Bool
	closed     atomic.Bool
}

func (f *fakeDriver) Connect() error {
	f.alive.Store(true)
	return nil
}

func (f *fakeDriver) IsConnected() bool { return f.alive.Load() }

func (f *fakeDriver) Close() error {
	f.closed.Store(true)
	f.alive.Store(false)
	return nil
}

func (f *fakeDriver) Query(_ context.Context, q common.Query) ([]common.Row, error) {
	f.mu.Lock()
	f.queryCalls = append(f.queryCalls, q)
	call := len(f.queryCalls)
	fn := f.queryFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(call, q)
	}
	return nil, nil
}

func (f *fakeDriver) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queryCalls)
}

func newTestExecutor(driver Driver, maxRetries int) *Executor {
	cfg := config.DatabaseConfig{
		Type:       "postgres",
		Name:       "billing",
		MaxRetries: maxRetries,
		MaxWorkers: 4,
		QueueSize:  16,
	}
	return NewExecutor(cfg, driver, logging.NewNopLogger(), nil)
}

func TestEnqueueQueryReturnsRows(t *testing.T) {
	driver := &fakeDriver{
		queryFunc: func(_ int, q common.Query) ([]common.Row, error) {
			assert.Equal(t, "SELECT name FROM users WHERE id = :uid", q.Template)
			assert.Equal(t, map[string]any{"uid": "7"}, q.Params)
			return []common.Row{{"name": "ada"}}, nil
		},
	}
	e := newTestExecutor(driver, 3)
	e.Start()
	defer e.Stop(time.Second)

	future, err := e.EnqueueQuery(common.Query{
		Template: "SELECT name FROM users WHERE id = :uid",
		Params:   map[string]any{"uid": "7"},
	})
	require.NoError(t, err)

	rows, err := future.Result()
	require.NoError(t, err)
	assert.Equal(t, []common.Row{{"name": "ada"}}, rows)
}

func TestQueryRetriesThenSucceeds(t *testing.T) {
	driver := &fakeDriver{
		queryFunc: func(call int, _ common.Query) ([]common.Row, error) {
			if call == 1 {
				return nil, errors.New(errors.CodeDatabaseQuery, "deadlock")
			}
			return []common.Row{{"n": int64(1)}}, nil
		},
	}
	e := newTestExecutor(driver, 3)
	e.Start()
	defer e.Stop(time.Second)

	future, err := e.EnqueueQuery(common.Query{Template: "SELECT 1"})
	require.NoError(t, err)

	// First retry backs off for at least 2s; wait generously.
	select {
	case <-future.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("future did not resolve")
	}
	rows, err := future.Result()
	require.NoError(t, err)
	assert.Equal(t, []common.Row{{"n": int64(1)}}, rows)
	assert.Equal(t, 2, driver.calls())
}

func TestRetryBoundSurfacesExhaustion(t *testing.T) {
	driver := &fakeDriver{
		queryFunc: func(int, common.Query) ([]common.Row, error) {
			return nil, errors.New(errors.CodeDatabaseQuery, "always failing")
		},
	}
	e := newTestExecutor(driver, 1)
	e.Start()
	defer e.Stop(time.Second)

	future, err := e.EnqueueQuery(common.Query{Template: "SELECT broken"})
	require.NoError(t, err)

	select {
	case <-future.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("future did not resolve")
	}
	_, err = future.Result()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeRetriesExhausted))
	// Initial attempt + maxRetries re-attempts.
	assert.Equal(t, 2, driver.calls())
}

func TestOnCompleteCallbackFires(t *testing.T) {
	driver := &fakeDriver{
		queryFunc: func(int, common.Query) ([]common.Row, error) {
			return []common.Row{{"name": "ada"}}, nil
		},
	}
	e := newTestExecutor(driver, 3)
	e.Start()
	defer e.Stop(time.Second)

	future, err := e.EnqueueQuery(common.Query{Template: "SELECT 1"})
	require.NoError(t, err)

	got := make(chan []common.Row, 1)
	future.OnComplete(func(rows []common.Row, err error) {
		require.NoError(t, err)
		got <- rows
	})

	select {
	case rows := <-got:
		assert.Equal(t, []common.Row{{"name": "ada"}}, rows)
	case <-time.After(5 * time.Second):
		t.Fatal("callback did not fire")
	}
}

func TestParallelQueriesUseWorkerPool(t *testing.T) {
	var concurrent, peak atomic.Int32
	driver := &fakeDriver{
		queryFunc: func(int, common.Query) ([]common.Row, error) {
			cur := concurrent.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			concurrent.Add(-1)
			return nil, nil
		},
	}
	e := newTestExecutor(driver, 1)
	e.Start()
	defer e.Stop(2 * time.Second)

	futures := make([]*QueryFuture, 8)
	for i := range futures {
		f, err := e.EnqueueQuery(common.Query{Template: "SELECT pg_sleep(0)"})
		require.NoError(t, err)
		futures[i] = f
	}
	for _, f := range futures {
		_, err := f.Result()
		require.NoError(t, err)
	}
	assert.Greater(t, peak.Load(), int32(1), "queries must run in parallel")
	assert.LessOrEqual(t, peak.Load(), int32(4), "pool bound must hold")
}

func TestEnqueueAfterStopFails(t *testing.T) {
	e := newTestExecutor(&fakeDriver{}, 1)
	e.Start()
	e.Stop(time.Second)

	_, err := e.EnqueueQuery(common.Query{Template: "SELECT 1"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStopped))
}

func TestStopDrainsQueuedWork(t *testing.T) {
	driver := &fakeDriver{
		queryFunc: func(int, common.Query) ([]common.Row, error) {
			time.Sleep(10 * time.Millisecond)
			return []common.Row{{"ok": true}}, nil
		},
	}
	e := newTestExecutor(driver, 1)
	e.Start()

	futures := make([]*QueryFuture, 5)
	for i := range futures {
		f, err := e.EnqueueQuery(common.Query{Template: "SELECT 1"})
		require.NoError(t, err)
		futures[i] = f
	}

	e.Stop(5 * time.Second)
	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatal("queued future left unresolved by drain")
		}
	}
	assert.True(t, driver.closed.Load())
}

func TestQueueFullRejectsSubmission(t *testing.T) {
	cfg := config.DatabaseConfig{Type: "postgres", Name: "tiny", MaxRetries: 1, MaxWorkers: 1, QueueSize: 1}
	e := NewExecutor(cfg, &fakeDriver{}, logging.NewNopLogger(), nil)
	// Not started: nothing consumes the queue.
	_, err := e.EnqueueQuery(common.Query{Template: "a"})
	require.NoError(t, err)
	_, err = e.EnqueueQuery(common.Query{Template: "b"})
	require.Error(t, err)
}
