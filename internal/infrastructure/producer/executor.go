// Package producer provides the asynchronous message executor and the shared
// producer registry.  An executor owns one bus connection guarded by a
// connection orchestrator, a bounded queue, and a single dispatcher that sends
// messages in enqueue order with per-message retry.  Delivery is at-least-once:
// duplicates can occur when a send partially succeeds before a disconnect is
// observed.
package producer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/conn"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

// Driver is implemented by concrete bus clients (kafka, redis).  It extends
// the orchestrator's resource surface with message delivery.
type Driver interface {
	conn.Resource
	Send(ctx context.Context, msg common.Message) error
}

// messageTask is one queued message with its retry history.
type messageTask struct {
	id      string
	msg     common.Message
	retries int
}

// Executor delivers messages for one shared producer.
type Executor struct {
	cfg          config.ProducerConfig
	driver       Driver
	orchestrator *conn.Orchestrator
	logger       logging.Logger
	metrics      *prometheus.PipelineMetrics

	queue    chan *messageTask
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	done     sync.WaitGroup
}

// ResourceName returns the metrics/log identity of the executor.
func (e *Executor) ResourceName() string { return "producer." + e.cfg.Type + "-" + e.cfg.Name }

// NewExecutor wires an executor around driver.  Call Start before enqueueing.
func NewExecutor(cfg config.ProducerConfig, driver Driver, logger logging.Logger, metrics *prometheus.PipelineMetrics) *Executor {
	e := &Executor{
		cfg:     cfg,
		driver:  driver,
		logger:  logger.Named("producer").Named(cfg.Type + "-" + cfg.Name),
		metrics: metrics,
		queue:   make(chan *messageTask, cfg.QueueSize),
		stopCh:  make(chan struct{}),
	}
	e.orchestrator = conn.NewOrchestrator(e.ResourceName(), driver, conn.Options{
		MaxRetries: cfg.MaxRetries,
	}, logger, metrics)
	return e
}

// Start launches the dispatcher.
func (e *Executor) Start() {
	e.done.Add(1)
	go e.worker()
	e.logger.Info("producer executor started", logging.Int("queue_size", e.cfg.QueueSize))
}

// Enqueue submits a message for asynchronous, fire-and-forget delivery.
func (e *Executor) Enqueue(msg common.Message) error {
	if e.stopped.Load() {
		return errors.Stopped("executor is shut down").WithDetail(e.ResourceName())
	}
	task := &messageTask{id: uuid.NewString(), msg: msg}
	select {
	case e.queue <- task:
		e.metrics.SetProducerQueueDepth(e.cfg.Name, len(e.queue))
		return nil
	default:
		return errors.Newf(errors.CodeInternal, "message queue full (%d)", cap(e.queue)).WithDetail(e.ResourceName())
	}
}

// Stop shuts the executor down: intake closes, queued messages are drained for
// at most timeout, then the connection closes.
func (e *Executor) Stop(timeout time.Duration) {
	e.stopped.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })

	if waitTimeout(&e.done, timeout) {
		e.logger.Warn("shutdown timeout reached with messages still queued",
			logging.Duration("timeout", timeout))
	}
	_ = e.orchestrator.Close()
	e.logger.Info("producer executor stopped")
}

// worker is the single dispatcher: messages are sent in queue order, one at a
// time.  Retry sleeps run here — subsequent messages wait, which preserves the
// enqueue-order delivery the pipeline promises per producer.
func (e *Executor) worker() {
	defer e.done.Done()

	if err := e.orchestrator.EnsureConnected(); err != nil {
		e.logger.Warn("worker exiting before first connection", logging.Err(err))
		return
	}

	for {
		select {
		case <-e.stopCh:
			for {
				select {
				case task := <-e.queue:
					e.send(task)
				default:
					return
				}
			}
		case task := <-e.queue:
			e.metrics.SetProducerQueueDepth(e.cfg.Name, len(e.queue))
			e.send(task)
		}
	}
}

// send attempts delivery with in-place retry.  A message that exhausts its
// retries is dropped with an error log: terminating the worker would turn one
// poison message into a dead pipeline.
func (e *Executor) send(task *messageTask) {
	for {
		if err := e.orchestrator.EnsureConnected(); err != nil {
			e.logger.Warn("dropping message, executor closed", logging.String("task_id", task.id))
			return
		}

		start := time.Now()
		err := e.driver.Send(context.Background(), task.msg)
		e.metrics.RecordSend(e.cfg.Name, task.msg.Topic, time.Since(start), err)

		if err == nil {
			e.logger.Debug("message sent",
				logging.String("task_id", task.id),
				logging.String("topic", task.msg.Topic),
			)
			return
		}

		e.logger.Warn("send failed",
			logging.String("task_id", task.id),
			logging.String("topic", task.msg.Topic),
			logging.Int("retries", task.retries),
			logging.Err(err),
		)
		e.orchestrator.MarkDisconnected()

		if task.retries >= e.cfg.MaxRetries {
			e.logger.Error("max retries reached, dropping message",
				logging.String("task_id", task.id),
				logging.String("topic", task.msg.Topic),
			)
			return
		}

		task.retries++
		e.metrics.RecordSendRetry(e.cfg.Name)
		delay := conn.RetryBackoff(task.retries)
		e.logger.Info("retrying message",
			logging.String("task_id", task.id),
			logging.Int("attempt", task.retries),
			logging.Duration("delay", delay),
		)
		if !e.sleep(delay) {
			e.logger.Warn("dropping message, executor stopped during retry delay",
				logging.String("task_id", task.id))
			return
		}
	}
}

// sleep waits for d or until Stop; it reports false when interrupted.
func (e *Executor) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// waitTimeout waits on wg up to d; it reports true when the timeout fired.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return false
	case <-time.After(d):
		return true
	}
}
