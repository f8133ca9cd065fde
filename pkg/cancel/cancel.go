// Package cancel coordinates cooperative cancellation of keyed operations.
//
// At most one operation is live per key. Beginning a new operation for a key
// cancels the previous one before the new one is handed out, so a stale
// request can never outlive the request that replaced it.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrPreempted is the cancellation cause of an operation replaced by a newer
// one under the same key.
var ErrPreempted = errors.New("preempted by a newer operation")

// errReleased is the cause recorded when a finished operation releases its context.
var errReleased = errors.New("operation released")

type operationKey struct{}

// Operation is a cancellation token bound to a logical key.
type Operation struct {
	key    string
	ctx    context.Context
	cancel context.CancelCauseFunc
	owner  *Coordinator

	// commitMu orders a commit against preemption of this operation.
	commitMu sync.Mutex
}

// Key returns the logical key of the operation.
func (op *Operation) Key() string {
	return op.key
}

// Context returns the context that is cancelled with the operation.
func (op *Operation) Context() context.Context {
	return op.ctx
}

// Cancelled reports whether the operation has been cancelled.
func (op *Operation) Cancelled() bool {
	return op.ctx.Err() != nil
}

// Cause returns why the operation was cancelled, or nil.
func (op *Operation) Cause() error {
	return context.Cause(op.ctx)
}

// OnCancel arranges for fn to run once, in its own goroutine, when the
// operation is cancelled. The returned stop function deregisters fn; it
// reports false if fn has already been started.
func (op *Operation) OnCancel(fn func()) (stop func() bool) {
	return context.AfterFunc(op.ctx, fn)
}

// Cancel cancels the operation on behalf of the caller.
func (op *Operation) Cancel() {
	op.interrupt(context.Canceled)
}

// Done releases the operation. The key is freed only if this operation is
// still the live one for it.
func (op *Operation) Done() {
	if op.owner != nil {
		op.owner.release(op)
	}
	op.cancel(errReleased)
}

func (op *Operation) interrupt(cause error) {
	op.commitMu.Lock()
	defer op.commitMu.Unlock()
	op.cancel(cause)
}

// Coordinator hands out operations and enforces one live operation per key.
type Coordinator struct {
	mu   sync.Mutex
	live map[string]*Operation
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		live: make(map[string]*Operation),
	}
}

// Begin starts an operation for key derived from parent. If another
// operation is live for key it is cancelled with ErrPreempted before Begin
// returns, and preempted is true.
func (c *Coordinator) Begin(parent context.Context, key string) (op *Operation, preempted bool) {
	ctx, cancel := context.WithCancelCause(parent)
	op = &Operation{key: key, cancel: cancel, owner: c}
	op.ctx = context.WithValue(ctx, operationKey{}, op)

	c.mu.Lock()
	prev := c.live[key]
	c.live[key] = op
	c.mu.Unlock()

	if prev != nil && !prev.Cancelled() {
		prev.interrupt(ErrPreempted)
		preempted = true
	}

	return op, preempted
}

// Cancel cancels the live operation for key, if any, and reports whether
// there was one.
func (c *Coordinator) Cancel(key string) bool {
	c.mu.Lock()
	op := c.live[key]
	delete(c.live, key)
	c.mu.Unlock()

	if op == nil {
		return false
	}
	op.Cancel()
	return true
}

// Active reports whether key has a live operation.
func (c *Coordinator) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live[key]
	return ok
}

func (c *Coordinator) release(op *Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live[op.key] == op {
		delete(c.live, op.key)
	}
}

// Commit runs fn unless ctx is already cancelled, in which case it returns
// the cancellation cause. When ctx belongs to an Operation, fn runs while
// preemption of that operation is held off, so a cancellation either lands
// before fn starts or after it returns.
func Commit(ctx context.Context, fn func() error) error {
	if op, ok := ctx.Value(operationKey{}).(*Operation); ok {
		op.commitMu.Lock()
		defer op.commitMu.Unlock()
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	return fn()
}
