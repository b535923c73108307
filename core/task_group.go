package core

import (
	"sync"
)

// Group is a joinable collection of parallel sub-tasks that multiple
// goroutines may contribute to. It is the primitive behind
// ScopedLock.Execute: the writer's expensive computation spawns its work
// into a Group, and contending lock acquirers join the Group as helpers
// instead of blocking.
//
// Execution model:
//   - Spawn queues a sub-task and kicks a pool worker (when a pool is
//     attached) so queued work fans out across the pool.
//   - Any goroutine waiting on the Group runs queued sub-tasks itself
//     rather than parking, so a "blocked" participant is never idle while
//     work remains.
//   - The first failure (error or panic) recorded by a sub-task cancels the
//     Group: sub-tasks that have not started yet skip their body. Helpers
//     never observe the failure; it is delivered exactly once to the owner.
type Group struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    []func() error
	running  int
	holders  int
	finished bool

	cancelled  bool
	failure    error
	panicValue any

	pool ThreadPool
}

// NewGroup creates a Group. A nil pool is valid; sub-tasks then execute
// only on goroutines that wait on or help the Group.
func NewGroup(pool ThreadPool) *Group {
	g := &Group{pool: pool}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Spawn queues f as a sub-task of the group. It never blocks on f's
// execution. If the group has already been cancelled by an earlier failure,
// f's body is skipped when its turn comes.
func (g *Group) Spawn(f func() error) {
	wrapped := func() error {
		if g.Cancelled() {
			return nil
		}
		return f()
	}

	g.mu.Lock()
	g.tasks = append(g.tasks, wrapped)
	g.cond.Broadcast()
	g.mu.Unlock()

	// Kick a worker so queued work spreads across the pool. The worker may
	// end up running a different queued sub-task than f; only the count of
	// kicks and queued tasks has to line up, not their identity.
	if g.pool != nil {
		g.pool.Post(func() { g.runOne() })
	}
}

// ParallelFor spawns n sub-tasks fn(0) .. fn(n-1) and blocks until all of
// them have finished. The calling goroutine participates: while its batch
// is pending it runs queued group sub-tasks (its own or other batches')
// instead of parking.
//
// Failures from fn are recorded against the group and surface at the
// owner's Execute call site, never here; nesting ParallelFor inside group
// sub-tasks is safe at any depth.
func (g *Group) ParallelFor(n int, fn func(i int) error) {
	if n <= 0 {
		return
	}

	pending := n
	for i := 0; i < n; i++ {
		i := i
		g.Spawn(func() error {
			defer func() {
				g.mu.Lock()
				pending--
				g.cond.Broadcast()
				g.mu.Unlock()
			}()
			return fn(i)
		})
	}

	g.mu.Lock()
	for pending > 0 {
		if len(g.tasks) > 0 {
			g.mu.Unlock()
			g.runOne()
			g.mu.Lock()
			continue
		}
		// Batch tasks are running on other participants.
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// Cancelled reports whether a sub-task failure has cancelled the group.
func (g *Group) Cancelled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled
}

// runOne pops and executes a single queued sub-task. Returns false if the
// queue was empty.
func (g *Group) runOne() bool {
	g.mu.Lock()
	if len(g.tasks) == 0 {
		g.mu.Unlock()
		return false
	}
	f := g.tasks[0]
	g.tasks[0] = nil
	g.tasks = g.tasks[1:]
	g.running++
	g.mu.Unlock()

	err, pv := runCaptured(f)

	g.mu.Lock()
	g.running--
	if err != nil || pv != nil {
		g.recordFailureLocked(err, pv)
	}
	g.cond.Broadcast()
	g.mu.Unlock()
	return true
}

// help runs queued sub-tasks until the owner declares the group finished.
// Used by lock acquirers that joined an in-progress Execute; they return to
// their own acquisition loop afterwards. Failures are invisible here.
func (g *Group) help() {
	g.mu.Lock()
	for {
		if len(g.tasks) > 0 {
			g.mu.Unlock()
			g.runOne()
			g.mu.Lock()
			continue
		}
		if g.finished {
			break
		}
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// waitOwner drains the group on behalf of its owner: runs queued sub-tasks,
// then blocks until nothing is running and every attached WorkerRead holder
// has detached. Marks the group finished so helpers stop waiting for more
// work.
func (g *Group) waitOwner() {
	g.mu.Lock()
	for {
		if len(g.tasks) > 0 {
			g.mu.Unlock()
			g.runOne()
			g.mu.Lock()
			continue
		}
		if g.running == 0 && g.holders == 0 {
			break
		}
		g.cond.Wait()
	}
	g.finished = true
	g.cond.Broadcast()
	g.mu.Unlock()
}

// attach registers a WorkerRead holder. The group does not complete while
// holders remain attached, so work they spawn is always awaited.
func (g *Group) attach() {
	g.mu.Lock()
	g.holders++
	g.mu.Unlock()
}

// detach releases a WorkerRead holder's attachment.
func (g *Group) detach() {
	g.mu.Lock()
	g.holders--
	g.cond.Broadcast()
	g.mu.Unlock()
}

// recordFailure records a failure raised by the owner's own function, as
// opposed to a spawned sub-task. Cancels the group either way.
func (g *Group) recordFailure(err error, pv any) {
	g.mu.Lock()
	g.recordFailureLocked(err, pv)
	g.mu.Unlock()
}

func (g *Group) recordFailureLocked(err error, pv any) {
	if g.failure == nil && g.panicValue == nil {
		g.failure = err
		g.panicValue = pv
	}
	g.cancelled = true
}

// takeFailure returns the first recorded failure. Exactly one of the return
// values is non-nil when a failure occurred.
func (g *Group) takeFailure() (error, any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failure, g.panicValue
}

// runCaptured invokes f, converting a panic into a captured value so the
// caller can decide where (and whether) to re-raise it.
func runCaptured(f func() error) (err error, panicValue any) {
	defer func() {
		if r := recover(); r != nil {
			panicValue = r
		}
	}()
	err = f()
	return
}
