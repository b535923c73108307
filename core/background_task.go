package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a BackgroundTask.
type Status int32

const (
	// StatusPending: scheduled but not yet claimed by a worker.
	StatusPending Status = iota

	// StatusRunning: the work function is executing.
	StatusRunning

	// StatusDone: the work function returned successfully.
	StatusDone

	// StatusFailed: the work function returned an error or panicked.
	StatusFailed

	// StatusCancelled: cancellation was requested and the work function
	// either never started or unwound in response.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// WorkFunc is the body of a BackgroundTask. It must poll the Canceller at
// safe points and unwind (returning ErrCancelled, or any error wrapping it)
// when cancellation has been requested.
type WorkFunc func(c *Canceller) error

// BackgroundTask is an owned, cancellable unit of work bound to a subject
// identity and executed on the dispatcher's pool.
//
// The subject is an opaque, comparable handle used purely for grouping: at
// most one live BackgroundTask exists per subject, so two background
// computations can never race over state rooted at the same subject.
// Creating a task for a subject that already has a live one first cancels
// and waits out the prior task.
//
// Go has no destructors; call Close (or CancelAndWait) before dropping the
// last reference to guarantee no background activity outlives the owner.
type BackgroundTask struct {
	id        string
	subject   any
	canceller *Canceller
	fn        WorkFunc
	d         *Dispatcher

	claimed atomic.Bool
	status  atomic.Int32
	done    chan struct{}

	mu      sync.Mutex
	err     error
	started time.Time
}

// NewBackgroundTask schedules fn(canceller) on d's pool, keyed by subject.
// It blocks only if a prior live task for the same subject must be cancelled
// and waited out first.
func NewBackgroundTask(d *Dispatcher, subject any, fn WorkFunc) *BackgroundTask {
	t := &BackgroundTask{
		id:        uuid.NewString(),
		subject:   subject,
		canceller: NewCanceller(),
		fn:        fn,
		d:         d,
		done:      make(chan struct{}),
	}
	t.status.Store(int32(StatusPending))

	d.installSubjectTask(t)
	d.pool.Post(func() {
		if t.claim() {
			t.run()
		}
	})
	return t
}

// ID returns the task's unique identifier, used in logs and history.
func (t *BackgroundTask) ID() string { return t.id }

// Subject returns the opaque identity the task is keyed by. The task
// infrastructure never mutates it.
func (t *BackgroundTask) Subject() any { return t.subject }

// Canceller returns the task's cancellation token.
func (t *BackgroundTask) Canceller() *Canceller { return t.canceller }

// Status returns the task's current lifecycle state.
func (t *BackgroundTask) Status() Status {
	return Status(t.status.Load())
}

// Done is a non-blocking poll for a terminal status.
func (t *BackgroundTask) Done() bool {
	return t.Status().Terminal()
}

// Err returns the stored failure for a StatusFailed task, nil otherwise.
func (t *BackgroundTask) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel requests cooperative cancellation. Non-blocking; the running work
// function must poll the Canceller to observe it.
func (t *BackgroundTask) Cancel() {
	t.canceller.Cancel()
}

// Wait blocks until the task reaches a terminal state, without requesting
// cancellation, and returns the stored failure if the task failed.
//
// Wait is safe to call from a pool worker: if the task is still pending it
// is claimed and run inline on the calling goroutine instead of parking the
// worker behind its own pool queue. If the task is already running on
// another worker, that worker guarantees forward progress.
func (t *BackgroundTask) Wait() error {
	if t.claim() {
		t.run()
	}
	<-t.done
	return t.Err()
}

// CancelAndWait is Cancel followed by Wait.
func (t *BackgroundTask) CancelAndWait() error {
	t.Cancel()
	return t.Wait()
}

// Close cancels the task and waits for it to stop. It stands in for
// destruction: after Close returns no background activity remains.
func (t *BackgroundTask) Close() error {
	return t.CancelAndWait()
}

// claim transitions the task from scheduled to owned-by-caller. Exactly one
// of the pool worker and a waiter wins.
func (t *BackgroundTask) claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// run executes the work function and settles the terminal status. Called
// exactly once, by whichever goroutine won the claim.
func (t *BackgroundTask) run() {
	t.mu.Lock()
	t.started = time.Now()
	t.mu.Unlock()

	var st Status
	var failure error

	if t.canceller.Cancelled() {
		// Cancelled before the work ever started; skip the body entirely.
		st = StatusCancelled
	} else {
		t.status.Store(int32(StatusRunning))
		err, pv := runCaptured(func() error { return t.fn(t.canceller) })
		switch {
		case pv != nil:
			st = StatusFailed
			failure = fmt.Errorf("tasksync: background task panicked: %v", pv)
		case err != nil && !errors.Is(err, ErrCancelled):
			st = StatusFailed
			failure = err
		case err != nil || t.canceller.Cancelled():
			st = StatusCancelled
		default:
			st = StatusDone
		}
	}

	t.mu.Lock()
	t.err = failure
	finished := time.Now()
	started := t.started
	t.mu.Unlock()

	t.status.Store(int32(st))
	t.d.settleSubjectTask(t, TaskRecord{
		TaskID:     t.id,
		Subject:    subjectLabel(t.subject),
		Status:     st,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
		Err:        failure,
	})
	close(t.done)
}
