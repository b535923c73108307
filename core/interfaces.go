package core

import (
	"fmt"
	"time"
)

// =============================================================================
// ThreadPool: Execution engine abstraction
// =============================================================================

// ThreadPool is the execution engine that Group, TaskMutex and BackgroundTask
// fan work out to. The root package provides WorkerPool as the standard
// implementation; tests substitute their own.
type ThreadPool interface {
	// Post queues fn for execution on a worker goroutine.
	// Post must never block the caller on fn's execution.
	Post(fn func())

	// WorkerCount returns the number of worker goroutines.
	WorkerCount() int
}

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a pool task panics during execution and no
// other owner is entitled to the panic. Group sub-task panics are not routed
// here; they are re-raised at the owning Execute call site instead.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - poolName: The name of the pool where the panic occurred
	// - workerID: The ID of the worker goroutine
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(poolName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(poolName string, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] Panic: %v\nStack trace:\n%s",
		workerID, poolName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting synchronization metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast to avoid impacting the code paths
// they observe; RecordLockAcquired in particular sits on the mutex fast path.
type Metrics interface {
	// RecordLockAcquired records a successful TaskMutex acquisition of the
	// given lock type, together with how long the caller waited for it.
	RecordLockAcquired(lockType string, wait time.Duration)

	// RecordHelperJoin records that a contending goroutine joined an
	// in-progress Execute as a helper instead of blocking.
	RecordHelperJoin()

	// RecordExecuteDuration records how long a writer's Execute took,
	// including all fanned-out sub-tasks.
	RecordExecuteDuration(duration time.Duration)

	// RecordBackgroundTask records a background task reaching a terminal
	// status ("done", "failed" or "cancelled") and its total run time.
	RecordBackgroundTask(status string, duration time.Duration)

	// RecordQueueDepth records the current pool queue depth.
	// This can be called periodically to track queue growth/shrinkage.
	RecordQueueDepth(poolName string, depth int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordLockAcquired is a no-op.
func (m *NilMetrics) RecordLockAcquired(lockType string, wait time.Duration) {}

// RecordHelperJoin is a no-op.
func (m *NilMetrics) RecordHelperJoin() {}

// RecordExecuteDuration is a no-op.
func (m *NilMetrics) RecordExecuteDuration(duration time.Duration) {}

// RecordBackgroundTask is a no-op.
func (m *NilMetrics) RecordBackgroundTask(status string, duration time.Duration) {}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(poolName string, depth int) {}
