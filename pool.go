package tasksync

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Swind/go-task-sync/core"
)

// WorkerPool manages a set of worker goroutines pulling tasks from a shared
// FIFO queue. It is the standard core.ThreadPool implementation: TaskMutex
// Execute work and BackgroundTasks fan out onto it.
type WorkerPool struct {
	id      string
	workers int
	queue   *core.TaskQueue
	signal  chan struct{}

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex

	shuttingDown atomic.Bool

	panicHandler core.PanicHandler
	metrics      core.Metrics
	logger       core.Logger
}

// PoolConfig carries optional collaborators for a WorkerPool.
type PoolConfig struct {
	PanicHandler core.PanicHandler
	Metrics      core.Metrics
	Logger       core.Logger
}

// NewWorkerPool creates a WorkerPool with default collaborators. The pool
// does not run until Start is called.
func NewWorkerPool(id string, workers int) *WorkerPool {
	return NewWorkerPoolWithConfig(id, workers, nil)
}

// NewWorkerPoolWithConfig creates a WorkerPool with explicit collaborators.
// Panics if workers < 1.
func NewWorkerPoolWithConfig(id string, workers int, config *PoolConfig) *WorkerPool {
	if workers < 1 {
		panic("tasksync: WorkerPool requires at least one worker")
	}
	p := &WorkerPool{
		id:           id,
		workers:      workers,
		queue:        core.NewTaskQueue(),
		signal:       make(chan struct{}, workers*2),
		panicHandler: &core.DefaultPanicHandler{},
		metrics:      &core.NilMetrics{},
		logger:       core.NewDefaultLogger(),
	}
	if config != nil {
		if config.PanicHandler != nil {
			p.panicHandler = config.PanicHandler
		}
		if config.Metrics != nil {
			p.metrics = config.Metrics
		}
		if config.Logger != nil {
			p.logger = config.Logger
		}
	}
	return p
}

// Start starts all worker goroutines.
func (p *WorkerPool) Start(ctx context.Context) {
	p.runningMu.Lock()
	defer p.runningMu.Unlock()

	if p.running {
		return // Already running
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i, p.ctx)
	}
}

// Stop stops the pool immediately. Queued tasks that have not started are
// discarded.
func (p *WorkerPool) Stop() {
	p.shuttingDown.Store(true)
	p.queue.Clear()

	p.runningMu.Lock()
	if !p.running {
		p.runningMu.Unlock()
		return
	}
	p.runningMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.Join()

	p.runningMu.Lock()
	p.running = false
	p.runningMu.Unlock()
}

// StopGraceful stops the pool after the queue drains, or forcibly once
// timeout is exceeded. Returns an error on timeout.
func (p *WorkerPool) StopGraceful(timeout time.Duration) error {
	p.shuttingDown.Store(true)

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			p.Stop()
			return fmt.Errorf("tasksync: graceful stop timed out after %v, forced clearing", timeout)
		case <-ticker.C:
			if p.queue.IsEmpty() {
				p.Stop()
				return nil
			}
		}
	}
}

// ID returns the ID of the pool.
func (p *WorkerPool) ID() string {
	return p.id
}

// IsRunning returns whether the pool is running.
func (p *WorkerPool) IsRunning() bool {
	p.runningMu.RLock()
	defer p.runningMu.RUnlock()
	return p.running
}

// Post queues fn for execution on a worker goroutine. Never blocks on fn's
// execution. Tasks posted during shutdown are dropped.
func (p *WorkerPool) Post(fn func()) {
	if p.shuttingDown.Load() {
		p.logger.Debug("task dropped during shutdown", core.F("pool", p.id))
		return
	}

	p.queue.Push(fn)
	p.metrics.RecordQueueDepth(p.id, p.queue.Len())

	select {
	case p.signal <- struct{}{}:
	default:
		// Signal channel full, but the task is already queued; a worker
		// draining the queue will reach it.
	}
}

// WorkerCount returns the number of workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueuedTaskCount returns the number of tasks waiting in the queue.
func (p *WorkerPool) QueuedTaskCount() int {
	return p.queue.Len()
}

// Join waits for all worker goroutines to finish.
func (p *WorkerPool) Join() {
	p.wg.Wait()
}

// workerLoop is the main loop for each worker.
func (p *WorkerPool) workerLoop(id int, ctx context.Context) {
	defer p.wg.Done()
	stopCh := ctx.Done()

	for {
		fn, ok := p.queue.Pop()
		if !ok {
			select {
			case <-p.signal:
				continue
			case <-stopCh:
				return
			}
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					p.panicHandler.HandlePanic(p.id, id, r, debug.Stack())
				}
			}()
			fn()
		}()
	}
}
