package producer

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
	mu       sync.Mutex
	sent     []common.Message
	sendFunc func(call int, msg common.Message) error
	alive    atomic.Bool
	closed   atomic.Bool
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

func (f *fakeDriver) Send(_ context.Context, msg common.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	call := len(f.sent)
	fn := f.sendFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(call, msg)
	}
	return nil
}

func (f *fakeDriver) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeDriver) messages() []common.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestExecutor(driver Driver, maxRetries int) *Executor {
	cfg := config.ProducerConfig{
		Type:       "kafka",
		Name:       "events",
		MaxRetries: maxRetries,
		QueueSize:  32,
	}
	return NewExecutor(cfg, driver, logging.NewNopLogger(), nil)
}

func TestMessagesDeliveredInOrder(t *testing.T) {
	driver := &fakeDriver{}
	e := newTestExecutor(driver, 2)
	e.Start()
	defer e.Stop(time.Second)

	for i, topic := range []string{"a", "b", "c"} {
		require.NoError(t, e.Enqueue(common.Message{
			Topic:   topic,
			Payload: map[string]any{"seq": i},
		}))
	}

	require.Eventually(t, func() bool { return driver.attempts() == 3 }, 5*time.Second, 5*time.Millisecond)
	sent := driver.messages()
	assert.Equal(t, "a", sent[0].Topic)
	assert.Equal(t, "b", sent[1].Topic)
	assert.Equal(t, "c", sent[2].Topic)
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	driver := &fakeDriver{
		sendFunc: func(call int, _ common.Message) error {
			if call == 1 {
				return errors.New(errors.CodeProducerSend, "broker hiccup")
			}
			return nil
		},
	}
	e := newTestExecutor(driver, 2)
	e.Start()
	defer e.Stop(time.Second)

	require.NoError(t, e.Enqueue(common.Message{Topic: "errors"}))

	// First retry backs off 2s + jitter.
	require.Eventually(t, func() bool { return driver.attempts() == 2 }, 30*time.Second, 20*time.Millisecond)
}

func TestRetryExhaustionDropsMessageAndKeepsWorker(t *testing.T) {
	var failures atomic.Int32
	driver := &fakeDriver{
		sendFunc: func(_ int, msg common.Message) error {
			if msg.Topic == "poison" {
				failures.Add(1)
				return errors.New(errors.CodeProducerSend, "always failing")
			}
			return nil
		},
	}
	e := newTestExecutor(driver, 1)
	e.Start()
	defer e.Stop(time.Second)

	require.NoError(t, e.Enqueue(common.Message{Topic: "poison"}))

	// Initial attempt + one retry, then the message is dropped.
	require.Eventually(t, func() bool { return failures.Load() == 2 }, 30*time.Second, 20*time.Millisecond)

	// The worker must survive the poison message and deliver later traffic.
	require.NoError(t, e.Enqueue(common.Message{Topic: "healthy"}))
	require.Eventually(t, func() bool {
		for _, m := range driver.messages() {
			if m.Topic == "healthy" {
				return true
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)
}

func TestEnqueueAfterStopFails(t *testing.T) {
	e := newTestExecutor(&fakeDriver{}, 1)
	e.Start()
	e.Stop(time.Second)

	err := e.Enqueue(common.Message{Topic: "late"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStopped))
}

func TestStopDrainsQueuedMessages(t *testing.T) {
	driver := &fakeDriver{
		sendFunc: func(int, common.Message) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}
	e := newTestExecutor(driver, 1)
	e.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Enqueue(common.Message{Topic: "drain"}))
	}
	e.Stop(5 * time.Second)

	assert.Equal(t, 5, driver.attempts())
	assert.True(t, driver.closed.Load())
}

func TestQueueFullRejects(t *testing.T) {
	cfg := config.ProducerConfig{Type: "kafka", Name: "tiny", MaxRetries: 1, QueueSize: 1}
	e := NewExecutor(cfg, &fakeDriver{}, logging.NewNopLogger(), nil)
	// Not started: nothing consumes the queue.
	require.NoError(t, e.Enqueue(common.Message{Topic: "one"}))
	assert.Error(t, e.Enqueue(common.Message{Topic: "two"}))
}
