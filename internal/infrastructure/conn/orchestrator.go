// Package conn provides the connection orchestrator shared by the database
// and producer executors: a guard that enforces single-flight reconnection
// with bounded retries and a cool-down phase, so that a burst of failure
// signals from concurrent workers never triggers parallel reconnect storms.
package conn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Resource is the narrow surface a guarded connection exposes to its
// orchestrator.  Database drivers and producer drivers both satisfy it.
type Resource interface {
	// Connect establishes the connection.  Called only while the orchestrator
	// holds the reconnect lock.
	Connect() error

	// IsConnected probes live connectivity.  Used to reject spurious
	// disconnect signals raced in by concurrent workers.
	IsConnected() bool

	// Close releases the connection.  Errors are reported, not retried.
	Close() error
}

// Options tunes the reconnect policy.  Zero values select the defaults.
type Options struct {
	// MaxRetries bounds each reconnect round.  Default 5.
	MaxRetries int

	// RetryDelay separates attempts inside a round.  Default 5s.
	RetryDelay time.Duration

	// Cooldown separates reconnect rounds after MaxRetries failures.
	// Default 120s.
	Cooldown time.Duration
}

const (
	defaultMaxRetries = 5
	defaultRetryDelay = 5 * time.Second
	defaultCooldown   = 120 * time.Second
)

// Orchestrator guards one shared resource.  The connected flag is read on the
// fast path without the lock; a stale true is corrected by the next failure
// signal, a stale false only costs one redundant lock acquisition.
type Orchestrator struct {
	name     string
	resource Resource
	opts     Options
	logger   logging.Logger
	metrics  *prometheus.PipelineMetrics

	connected atomic.Bool
	mu        sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewOrchestrator wraps resource with a reconnect guard.  name identifies the
// resource in logs and metrics (e.g. "db.postgres-billing").
func NewOrchestrator(name string, resource Resource, opts Options, logger logging.Logger, metrics *prometheus.PipelineMetrics) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	return &Orchestrator{
		name:     name,
		resource: resource,
		opts:     opts,
		logger:   logger.Named(name),
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

// EnsureConnected returns immediately when the resource is connected.
// Otherwise exactly one caller performs the reconnect sequence while
// concurrent callers block on the lock and observe its result.
//
// The reconnect sequence never gives up on its own: each round makes
// MaxRetries attempts separated by RetryDelay, then sleeps for Cooldown and
// starts the next round.  The only early exit is Close, which surfaces as a
// CodeStopped error.
func (o *Orchestrator) EnsureConnected() error {
	if o.connected.Load() {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.connected.Load() {
		return nil
	}

	o.logger.Warn("connection not active, reconnecting")

	for {
		for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
			if o.stopped() {
				return errors.Stopped("orchestrator closed during reconnect").WithDetail(o.name)
			}

			o.metrics.RecordReconnect(o.name)
			err := o.resource.Connect()
			if err == nil {
				o.connected.Store(true)
				o.metrics.RecordConnectionState(o.name, true)
				o.logger.Info("connected")
				return nil
			}

			o.logger.Error("connection attempt failed",
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", o.opts.MaxRetries),
				logging.Err(err),
			)
			if !o.sleep(o.opts.RetryDelay) {
				return errors.Stopped("orchestrator closed during retry delay").WithDetail(o.name)
			}
		}

		o.logger.Error("connection failed after all attempts, entering cool-down",
			logging.Int("attempts", o.opts.MaxRetries),
			logging.Duration("cooldown", o.opts.Cooldown),
		)
		if !o.sleep(o.opts.Cooldown) {
			return errors.Stopped("orchestrator closed during cool-down").WithDetail(o.name)
		}
	}
}

// MarkDisconnected records a failure signal.  The resource is probed first:
// workers race their failure reports, and a signal that arrives after a
// successful reconnect must not tear the connection down again.
func (o *Orchestrator) MarkDisconnected() {
	if o.resource.IsConnected() {
		o.logger.Warn("disconnect signal ignored, resource reports alive")
		return
	}
	if o.connected.CompareAndSwap(true, false) {
		o.metrics.RecordConnectionState(o.name, false)
		o.logger.Warn("marked as disconnected")
	}
}

// Connected reports the guard's view of the connection state.
func (o *Orchestrator) Connected() bool {
	return o.connected.Load()
}

// Close interrupts any in-flight reconnect sleeps and closes the resource.
// Close errors are logged, not retried.
func (o *Orchestrator) Close() error {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.connected.Store(false)

	if err := o.resource.Close(); err != nil {
		o.logger.Error("close failed", logging.Err(err))
		return err
	}
	o.logger.Info("closed")
	return nil
}

func (o *Orchestrator) stopped() bool {
	select {
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d or until Close; it reports false when interrupted.
func (o *Orchestrator) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-o.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
