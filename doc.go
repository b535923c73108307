// Package tasksync provides a collaborative synchronization core for
// engines that perform expensive, lazily-triggered computations off the
// main thread: a work-stealing-aware reader/writer lock (TaskMutex), owned
// cancellable background jobs (BackgroundTask), and foreground-thread
// dispatch.
//
// # Quick Start
//
// Initialize a worker pool and a dispatcher at application startup:
//
//	pool := tasksync.NewWorkerPool("eval", runtime.NumCPU())
//	pool.Start(context.Background())
//	defer pool.Stop()
//
//	dispatcher := tasksync.NewDispatcher(pool)
//
// Guard lazily-computed shared state with a TaskMutex. The writer's
// expensive computation is expressed as parallel sub-tasks; goroutines
// contending for the lock join in as helpers instead of blocking:
//
//	mutex := tasksync.NewTaskMutex(pool)
//
//	var lock tasksync.ScopedLock
//	lock.Acquire(mutex, false, true)
//	defer lock.Release()
//	if !initialised {
//		lock.UpgradeToWriter()
//		if !initialised { // Re-check: the lock is lost momentarily during upgrade
//			lock.Execute(func(g *tasksync.Group) error {
//				g.ParallelFor(n, computeChunk)
//				return nil
//			})
//			initialised = true
//		}
//	}
//
// Run a whole evaluation as a cancellable background job keyed by a subject
// identity, with at most one live job per subject:
//
//	task := dispatcher.CallOnBackgroundThread(node, func(c *tasksync.Canceller) error {
//		for _, step := range steps {
//			if err := c.Check(); err != nil {
//				return err
//			}
//			step()
//		}
//		dispatcher.CallOnUIThread(refreshView)
//		return nil
//	})
//	defer task.Close()
//
// # Key Concepts
//
// TaskMutex: a reader/writer lock whose writer-side critical section runs
// as joinable parallel work. Contenders are offered WorkerRead access: they
// execute outstanding sub-tasks of the writer's work and re-attempt their
// own acquisition once the work drains, so no goroutine idles while there
// is work to do.
//
// BackgroundTask: an owned, cancellable unit of pool work bound to an
// opaque subject identity. Cancellation is cooperative: the work function
// polls its Canceller at safe points and is never interrupted forcibly.
//
// Foreground dispatch: CallOnUIThread marshals callables to the single
// designated foreground thread through a subscribable Signal; the host's
// event loop (or a ForegroundLoop) registers itself as the executor.
//
// # Thread Safety
//
// The mutex and task infrastructure own only synchronization state. The
// payload a TaskMutex guards, and who may mutate it when, belong entirely
// to the call site; the core guarantees mutual exclusion and ordering, not
// payload semantics.
package tasksync
