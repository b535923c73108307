package tasksync

import "github.com/Swind/go-task-sync/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the tasksync package for most use cases.

// TaskMutex is the collaborative reader/writer lock
type TaskMutex = core.TaskMutex

// ScopedLock is the handle representing current ownership of a TaskMutex
type ScopedLock = core.ScopedLock

// LockType identifies what a ScopedLock currently holds
type LockType = core.LockType

// Group is the joinable collection of parallel sub-tasks behind Execute
type Group = core.Group

// Canceller is the cooperative cancellation token
type Canceller = core.Canceller

// BackgroundTask is an owned, cancellable unit of pool work keyed by subject
type BackgroundTask = core.BackgroundTask

// WorkFunc is the body of a BackgroundTask
type WorkFunc = core.WorkFunc

// Status is the lifecycle state of a BackgroundTask
type Status = core.Status

// Dispatcher bridges background computation and the foreground thread
type Dispatcher = core.Dispatcher

// Signal is the foreground dispatch subscription point
type Signal = core.Signal

// ForegroundLoop is a ready-made foreground event loop
type ForegroundLoop = core.ForegroundLoop

// TaskRecord describes a finished background task
type TaskRecord = core.TaskRecord

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Lock type constants
const (
	Unlocked   LockType = core.Unlocked
	Read       LockType = core.Read
	Write      LockType = core.Write
	WorkerRead LockType = core.WorkerRead
)

// Status constants
const (
	StatusPending   Status = core.StatusPending
	StatusRunning   Status = core.StatusRunning
	StatusDone      Status = core.StatusDone
	StatusFailed    Status = core.StatusFailed
	StatusCancelled Status = core.StatusCancelled
)

// ErrCancelled is returned by Canceller.Check once cancellation is requested
var ErrCancelled = core.ErrCancelled

// Convenience constructors
var (
	NewTaskMutex           = core.NewTaskMutex
	NewTaskMutexWithConfig = core.NewTaskMutexWithConfig
	NewGroup               = core.NewGroup
	NewCanceller           = core.NewCanceller
	NewChildCanceller      = core.NewChildCanceller
	CancelAfter            = core.CancelAfter
	NewBackgroundTask      = core.NewBackgroundTask
	NewDispatcher          = core.NewDispatcher
	NewForegroundLoop      = core.NewForegroundLoop
)

// NewDispatcherWithConfig creates a Dispatcher with explicit collaborators.
// This is re-exported for hosts wiring their own logger and metrics.
func NewDispatcherWithConfig(pool ThreadPool, config *core.DispatcherConfig) *Dispatcher {
	return core.NewDispatcherWithConfig(pool, config)
}
