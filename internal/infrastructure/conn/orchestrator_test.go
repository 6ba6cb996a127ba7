package conn

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// fakeResource is a func-field Resource double.
type fakeResource struct {
	mu           sync.Mutex
	connectCalls int
	connectFunc  func(call int) error
	alive        atomic.Bool
	closed       atomic.Bool
}

func (f *fakeResource) Connect() error {
	f.mu.Lock()
	f.connectCalls++
	call := f.connectCalls
	fn := f.connectFunc
	f.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(call)
	}
	if err == nil {
		f.alive.Store(true)
	}
	return err
}

func (f *fakeResource) IsConnected() bool { return f.alive.Load() }

func (f *fakeResource) Close() error {
	f.closed.Store(true)
	f.alive.Store(false)
	return nil
}

func (f *fakeResource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func newTestOrchestrator(r Resource, opts Options) *Orchestrator {
	return NewOrchestrator("test-resource", r, opts, logging.NewNopLogger(), nil)
}

func TestEnsureConnectedFastPath(t *testing.T) {
	resource := &fakeResource{}
	o := newTestOrchestrator(resource, Options{RetryDelay: time.Millisecond})

	require.NoError(t, o.EnsureConnected())
	assert.Equal(t, 1, resource.calls())
	assert.True(t, o.Connected())

	// Second call must not touch the resource.
	require.NoError(t, o.EnsureConnected())
	assert.Equal(t, 1, resource.calls())
}

func TestEnsureConnectedRetriesThenSucceeds(t *testing.T) {
	resource := &fakeResource{
		connectFunc: func(call int) error {
			if call <= 3 {
				return errors.New(errors.CodeDatabaseConnection, "dial refused")
			}
			return nil
		},
	}
	o := newTestOrchestrator(resource, Options{MaxRetries: 5, RetryDelay: time.Millisecond})

	require.NoError(t, o.EnsureConnected())
	assert.Equal(t, 4, resource.calls(), "3 failures + 1 success")
	assert.True(t, o.Connected())
}

func TestSingleFlightUnderConcurrency(t *testing.T) {
	release := make(chan struct{})
	resource := &fakeResource{
		connectFunc: func(call int) error {
			<-release
			if call <= 3 {
				return errors.New(errors.CodeDatabaseConnection, "dial refused")
			}
			return nil
		},
	}
	o := newTestOrchestrator(resource, Options{MaxRetries: 5, RetryDelay: time.Millisecond})

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.EnsureConnected()
		}(i)
	}

	// Let every goroutine reach the guard before releasing the connect calls.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	// Exactly one caller drove the sequence: 3 failed + 1 successful attempt.
	assert.Equal(t, 4, resource.calls())
}

func TestMarkDisconnectedProbesResource(t *testing.T) {
	resource := &fakeResource{}
	o := newTestOrchestrator(resource, Options{RetryDelay: time.Millisecond})
	require.NoError(t, o.EnsureConnected())

	// Resource still alive: the signal is spurious and must be ignored.
	o.MarkDisconnected()
	assert.True(t, o.Connected())

	// Resource actually dead: flag clears, next EnsureConnected reconnects.
	resource.alive.Store(false)
	o.MarkDisconnected()
	assert.False(t, o.Connected())

	require.NoError(t, o.EnsureConnected())
	assert.Equal(t, 2, resource.calls())
}

func TestCooldownThenNextRound(t *testing.T) {
	resource := &fakeResource{
		connectFunc: func(call int) error {
			if call <= 2 {
				return errors.New(errors.CodeProducerConnection, "broker down")
			}
			return nil
		},
	}
	// One attempt per round: first two rounds fail and cool down, third succeeds.
	o := newTestOrchestrator(resource, Options{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Cooldown:   5 * time.Millisecond,
	})

	require.NoError(t, o.EnsureConnected())
	assert.Equal(t, 3, resource.calls())
}

func TestCloseInterruptsReconnect(t *testing.T) {
	resource := &fakeResource{
		connectFunc: func(int) error {
			return errors.New(errors.CodeProducerConnection, "broker down")
		},
	}
	o := newTestOrchestrator(resource, Options{
		MaxRetries: 2,
		RetryDelay: 50 * time.Millisecond,
		Cooldown:   time.Hour,
	})

	done := make(chan error, 1)
	go func() { done <- o.EnsureConnected() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, o.Close())

	select {
	case err := <-done:
		assert.True(t, errors.IsCode(err, errors.CodeStopped))
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureConnected did not return after Close")
	}
	assert.True(t, resource.closed.Load())
}

func TestRetryBackoffBounds(t *testing.T) {
	for retries := 1; retries <= 5; retries++ {
		d := RetryBackoff(retries)
		min := time.Duration(1<<uint(retries)) * time.Second
		assert.GreaterOrEqual(t, d, min)
		assert.Less(t, d, min+10*time.Second)
	}
	// Degenerate inputs must not panic or overflow.
	assert.GreaterOrEqual(t, RetryBackoff(-3), time.Second)
	assert.Greater(t, RetryBackoff(40), time.Duration(0))
}
