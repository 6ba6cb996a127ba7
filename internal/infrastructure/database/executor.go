// Package database provides the asynchronous query executor and the shared
// database registry.  An executor owns one driver connection guarded by a
// connection orchestrator, a bounded work queue, a single dispatcher, and a
// worker pool sized by configuration; queries are retried with exponential
// backoff and surface to callers through futures.
package database

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

// Driver is implemented by concrete database clients.  It extends the
// orchestrator's resource surface with query execution.  Rows map lowercased
// column names to values.
type Driver interface {
	conn.Resource
	Query(ctx context.Context, q common.Query) ([]common.Row, error)
}

// queryTask is one unit of work flowing through the executor.  The retry
// counter travels with the task so a re-enqueued task keeps its history.
type queryTask struct {
	id      string
	query   common.Query
	retries int
	future  *QueryFuture
}

// Executor runs enrichment queries against one shared database.
type Executor struct {
	cfg          config.DatabaseConfig
	driver       Driver
	orchestrator *conn.Orchestrator
	logger       logging.Logger
	metrics      *prometheus.PipelineMetrics

	queue    chan *queryTask
	workers  chan struct{} // semaphore bounding concurrent driver calls
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	// inflight counts the dispatcher, running workers, and scheduled retries,
	// so Stop can drain everything that is still owed a future resolution.
	inflight sync.WaitGroup
}

// ResourceName returns the metrics/log identity of the executor.
func (e *Executor) ResourceName() string { return "db." + e.cfg.Type + "-" + e.cfg.Name }

// NewExecutor wires an executor around driver.  Call Start before enqueueing.
func NewExecutor(cfg config.DatabaseConfig, driver Driver, logger logging.Logger, metrics *prometheus.PipelineMetrics) *Executor {
	e := &Executor{
		cfg:     cfg,
		driver:  driver,
		logger:  logger.Named("db").Named(cfg.Type + "-" + cfg.Name),
		metrics: metrics,
		queue:   make(chan *queryTask, cfg.QueueSize),
		workers: make(chan struct{}, cfg.MaxWorkers),
		stopCh:  make(chan struct{}),
	}
	e.orchestrator = conn.NewOrchestrator(e.ResourceName(), driver, conn.Options{
		MaxRetries: cfg.MaxRetries,
	}, logger, metrics)
	return e
}

// Start launches the dispatcher.
func (e *Executor) Start() {
	e.inflight.Add(1)
	go e.dispatch()
	e.logger.Info("database executor started",
		logging.Int("max_workers", e.cfg.MaxWorkers),
		logging.Int("queue_size", e.cfg.QueueSize),
	)
}

// EnqueueQuery submits a query and returns its pending future.  It fails fast
// with CodeStopped after Stop and with CodeInternal when the bounded queue is
// full — the caller treats a rejected submission as a transient condition and
// leaves the record READY for the next enrichment pass.
func (e *Executor) EnqueueQuery(q common.Query) (*QueryFuture, error) {
	if e.stopped.Load() {
		return nil, errors.Stopped("executor is shut down").WithDetail(e.ResourceName())
	}
	task := &queryTask{id: uuid.NewString(), query: q, future: NewQueryFuture()}
	select {
	case e.queue <- task:
		e.metrics.SetDBQueueDepth(e.cfg.Name, len(e.queue))
		return task.future, nil
	default:
		return nil, errors.Newf(errors.CodeInternal, "query queue full (%d)", cap(e.queue)).WithDetail(e.ResourceName())
	}
}

// Stop shuts the executor down: intake closes immediately, queued and
// in-flight work is drained for at most timeout, then the connection closes.
// Futures still unresolved when the timeout fires stay pending.
func (e *Executor) Stop(timeout time.Duration) {
	e.stopped.Store(true)
	e.stopOnce.Do(func() { close(e.stopCh) })

	if waitTimeout(&e.inflight, timeout) {
		e.logger.Warn("shutdown timeout reached with work still in flight",
			logging.Duration("timeout", timeout))
	}
	_ = e.orchestrator.Close()
	e.logger.Info("database executor stopped")
}

// dispatch is the single dispatcher loop: ensure the connection, pull a task,
// hand it to a worker slot.  On shutdown it drains whatever is already queued
// before exiting.
func (e *Executor) dispatch() {
	defer e.inflight.Done()

	if err := e.orchestrator.EnsureConnected(); err != nil {
		e.logger.Warn("dispatcher exiting before first connection", logging.Err(err))
		return
	}

	for {
		select {
		case <-e.stopCh:
			for {
				select {
				case task := <-e.queue:
					e.runTask(task)
				default:
					return
				}
			}
		case task := <-e.queue:
			e.metrics.SetDBQueueDepth(e.cfg.Name, len(e.queue))
			e.runTask(task)
		}
	}
}

// runTask blocks on a worker slot, then executes the task concurrently.
func (e *Executor) runTask(task *queryTask) {
	if err := e.orchestrator.EnsureConnected(); err != nil {
		task.future.Complete(nil, err)
		return
	}

	e.workers <- struct{}{}
	e.inflight.Add(1)
	go func() {
		defer func() {
			<-e.workers
			e.inflight.Done()
		}()
		e.execute(task)
	}()
}

// execute performs one driver call and routes the outcome: success resolves
// the future; failure marks the connection suspect and either schedules a
// retry or resolves the future with a retries-exhausted error.
func (e *Executor) execute(task *queryTask) {
	start := time.Now()
	rows, err := e.driver.Query(context.Background(), task.query)
	e.metrics.RecordQuery(e.cfg.Name, time.Since(start), err)

	if err == nil {
		e.logger.Debug("query completed",
			logging.String("task_id", task.id),
			logging.Int("rows", len(rows)),
		)
		task.future.Complete(rows, nil)
		return
	}

	e.logger.Warn("query failed",
		logging.String("task_id", task.id),
		logging.Int("retries", task.retries),
		logging.Err(err),
	)
	e.orchestrator.MarkDisconnected()

	if task.retries >= e.cfg.MaxRetries {
		e.logger.Error("max retries reached for query",
			logging.String("task_id", task.id),
			logging.Int("retries", task.retries),
		)
		task.future.Complete(nil, errors.RetriesExhausted("query failed after all retries", err).WithDetail(e.ResourceName()))
		return
	}

	task.retries++
	e.metrics.RecordQueryRetry(e.cfg.Name)
	delay := conn.RetryBackoff(task.retries)
	e.logger.Info("retrying query",
		logging.String("task_id", task.id),
		logging.Int("attempt", task.retries),
		logging.Duration("delay", delay),
	)

	// The sleep runs on a timer, not the dispatcher, so one failing query
	// cannot head-of-line block the rest of the queue.
	e.inflight.Add(1)
	time.AfterFunc(delay, func() {
		defer e.inflight.Done()
		if e.stopped.Load() {
			task.future.Complete(nil, errors.Stopped("executor shut down during retry delay").WithDetail(e.ResourceName()))
			return
		}
		select {
		case e.queue <- task:
		default:
			// Shutdown drained past us, or the queue is saturated with newer
			// work; resolve rather than strand the future.
			task.future.Complete(nil, errors.RetriesExhausted("could not re-enqueue after retry delay", err).WithDetail(e.ResourceName()))
		}
	})
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
