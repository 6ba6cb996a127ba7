package database

import (
	"sync"

	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

// QueryFuture is the pending result of an enqueued query.  Callers either
// block on Result or register a completion callback; the agent runtime uses
// the callback form so that record status updates happen as soon as the
// executor finishes.
type QueryFuture struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	rows      []common.Row
	err       error
	callbacks []func([]common.Row, error)
}

// NewQueryFuture returns an unresolved future.  The executor creates one per
// task; test doubles standing in for an executor create their own.
func NewQueryFuture() *QueryFuture {
	return &QueryFuture{done: make(chan struct{})}
}

// Complete resolves the future exactly once and fires the registered
// callbacks on the calling goroutine.  Later calls are ignored.  Only the
// component that produced the future may resolve it.
func (f *QueryFuture) Complete(rows []common.Row, err error) {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return
	}
	f.completed = true
	f.rows = rows
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(rows, err)
	}
}

// OnComplete registers fn to run when the future resolves.  If the future has
// already resolved, fn runs immediately on the caller's goroutine.
func (f *QueryFuture) OnComplete(fn func([]common.Row, error)) {
	f.mu.Lock()
	if f.completed {
		rows, err := f.rows, f.err
		f.mu.Unlock()
		fn(rows, err)
		return
	}
	f.callbacks = append(f.callbacks, fn)
	f.mu.Unlock()
}

// Done returns a channel closed when the future resolves.
func (f *QueryFuture) Done() <-chan struct{} { return f.done }

// Result blocks until the future resolves and returns its outcome.
func (f *QueryFuture) Result() ([]common.Row, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows, f.err
}
