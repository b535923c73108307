package core

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrCancelled is returned by Canceller.Check once cancellation has been
// requested. Work functions should treat it as a signal to unwind, not as a
// failure.
var ErrCancelled = errors.New("tasksync: cancelled")

// Canceller is a cooperative cancellation token. Long-running work polls it
// at safe points; cancellation never interrupts a goroutine forcibly.
//
// A Canceller may be chained to a parent, in which case cancelling the
// parent cancels every descendant. The zero value is a valid, un-chained,
// un-cancelled token.
type Canceller struct {
	cancelled atomic.Bool
	parent    *Canceller
}

// NewCanceller creates an un-chained Canceller.
func NewCanceller() *Canceller {
	return &Canceller{}
}

// NewChildCanceller creates a Canceller that is also considered cancelled
// whenever parent is. A nil parent yields an un-chained token.
func NewChildCanceller(parent *Canceller) *Canceller {
	return &Canceller{parent: parent}
}

// Cancel requests cancellation. It is non-blocking, idempotent and safe to
// call from any goroutine.
func (c *Canceller) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested on this token
// or any of its ancestors.
func (c *Canceller) Cancelled() bool {
	for t := c; t != nil; t = t.parent {
		if t.cancelled.Load() {
			return true
		}
	}
	return false
}

// Check returns ErrCancelled once cancellation has been requested, nil
// otherwise. Intended for use inside work functions:
//
//	if err := canceller.Check(); err != nil {
//		return err
//	}
func (c *Canceller) Check() error {
	if c.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// CancelAfter schedules c.Cancel() after d has elapsed and returns a stop
// function that prevents the pending cancel if it has not fired yet.
//
// There is no built-in timeout on any blocking operation in this package;
// deadline behaviour is composed by the caller with CancelAfter.
func CancelAfter(c *Canceller, d time.Duration) (stop func() bool) {
	t := time.AfterFunc(d, c.Cancel)
	return t.Stop
}
