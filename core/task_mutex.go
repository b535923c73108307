package core

import (
	"sync"
	"time"
)

// LockType identifies what a ScopedLock currently holds on its TaskMutex.
type LockType int

const (
	// Unlocked: the handle holds nothing.
	Unlocked LockType = iota

	// Read: shared access. Multiple readers may hold the lock concurrently.
	Read

	// Write: exclusive access against all readers and other writers.
	Write

	// WorkerRead: shared access obtained by joining an in-progress Execute
	// as a helper. Never granted by Acquire; only by AcquireOr.
	WorkerRead
)

func (t LockType) String() string {
	switch t {
	case Unlocked:
		return "unlocked"
	case Read:
		return "read"
	case Write:
		return "write"
	case WorkerRead:
		return "worker-read"
	default:
		return "unknown"
	}
}

// TaskMutex is a collaborative reader/writer lock for guarding lazily
// computed shared state. Its distinguishing feature is the writer-side
// critical section: work run through ScopedLock.Execute is expressed as
// parallel sub-tasks that contending lock acquirers join as helpers instead
// of blocking, so a contended lazy initialisation keeps every arriving
// goroutine busy.
//
// TaskMutex owns only synchronization state. The payload it guards, and the
// discipline for reading or mutating that payload, belong entirely to the
// call site.
type TaskMutex struct {
	mu   sync.Mutex
	cond *sync.Cond

	readers int
	writer  bool
	exec    *Group // non-nil while an Execute is in progress

	pool    ThreadPool
	metrics Metrics
}

// TaskMutexConfig carries optional collaborators for a TaskMutex.
type TaskMutexConfig struct {
	Metrics Metrics
}

// NewTaskMutex creates a TaskMutex whose Execute work fans out to pool.
// A nil pool is valid: sub-tasks then run only on the writer and its
// helpers.
func NewTaskMutex(pool ThreadPool) *TaskMutex {
	return NewTaskMutexWithConfig(pool, nil)
}

// NewTaskMutexWithConfig creates a TaskMutex with explicit collaborators.
func NewTaskMutexWithConfig(pool ThreadPool, config *TaskMutexConfig) *TaskMutex {
	m := &TaskMutex{pool: pool, metrics: &NilMetrics{}}
	m.cond = sync.NewCond(&m.mu)
	if config != nil && config.Metrics != nil {
		m.metrics = config.Metrics
	}
	return m
}

// tryLockLocked attempts an immediate acquisition of t. Caller holds m.mu.
// For WorkerRead during an in-progress Execute it returns the group the
// caller joined; the caller must record it for Release.
func (m *TaskMutex) tryLockLocked(t LockType) (ok bool, joined *Group) {
	switch t {
	case Read:
		if !m.writer {
			m.readers++
			return true, nil
		}
	case Write:
		if !m.writer && m.readers == 0 {
			m.writer = true
			return true, nil
		}
	case WorkerRead:
		if m.exec != nil {
			m.exec.attach()
			return true, m.exec
		}
		if !m.writer {
			// No work to join; WorkerRead degrades to shared access.
			m.readers++
			return true, nil
		}
	}
	return false, nil
}

// ScopedLock is a handle representing current ownership of a TaskMutex.
// The zero value is ready to use:
//
//	var lock core.ScopedLock
//	lock.Acquire(mutex, false, true)
//	defer lock.Release()
//
// A ScopedLock is not safe for concurrent use and holds at most one mutex
// at a time. Its LockType always reflects what it currently holds.
type ScopedLock struct {
	mutex    *TaskMutex
	lockType LockType
	joined   *Group // WorkerRead attachment, when joined via an Execute
}

// Acquire blocks until the lock is held: shared when write is false,
// exclusive when write is true.
//
// When acceptWork is true and another handle's Execute is in progress, the
// caller helps run that work instead of parking, then retries. Pool-resident
// callers should always accept work; external goroutines may pass false to
// get a plain blocking wait.
func (l *ScopedLock) Acquire(m *TaskMutex, write bool, acceptWork bool) {
	if l.lockType != Unlocked {
		panic("tasksync: Acquire on a ScopedLock that already holds a lock")
	}
	t := Read
	if write {
		t = Write
	}

	start := time.Now()
	m.mu.Lock()
	for {
		if ok, joined := m.tryLockLocked(t); ok {
			m.mu.Unlock()
			l.mutex = m
			l.lockType = t
			l.joined = joined
			m.metrics.RecordLockAcquired(t.String(), time.Since(start))
			return
		}
		if acceptWork && m.exec != nil {
			g := m.exec
			m.mu.Unlock()
			m.metrics.RecordHelperJoin()
			g.help()
			m.mu.Lock()
			continue
		}
		m.cond.Wait()
	}
}

// AcquireOr attempts to acquire t without committing to a blocking wait.
//
// On each failed attempt the mutex reports, via workNotifier, whether an
// Execute is in progress whose work the caller could help run. The notifier
// returns whether the caller wishes to keep trying. AcquireOr returns false
// without the lock when the notifier declines, or when there is no work to
// help with; otherwise the caller helps until the work drains and then
// re-attempts its originally requested lock type.
//
// Requesting WorkerRead while an Execute is in progress always succeeds by
// attaching to the running work, which is what makes recursive acquisition
// from inside that work deadlock-free.
func (l *ScopedLock) AcquireOr(m *TaskMutex, t LockType, workNotifier func(workAvailable bool) bool) bool {
	if l.lockType != Unlocked {
		panic("tasksync: AcquireOr on a ScopedLock that already holds a lock")
	}
	if t == Unlocked {
		panic("tasksync: AcquireOr requires a lock type to acquire")
	}

	start := time.Now()
	m.mu.Lock()
	for {
		if ok, joined := m.tryLockLocked(t); ok {
			m.mu.Unlock()
			l.mutex = m
			l.lockType = t
			l.joined = joined
			m.metrics.RecordLockAcquired(t.String(), time.Since(start))
			return true
		}
		g := m.exec
		m.mu.Unlock()

		workAvailable := g != nil
		proceed := true
		if workNotifier != nil {
			proceed = workNotifier(workAvailable)
		}
		if !proceed || !workAvailable {
			return false
		}

		m.metrics.RecordHelperJoin()
		g.help()
		m.mu.Lock()
	}
}

// UpgradeToWriter releases the read lock and acquires write access, helping
// with in-progress work while waiting.
//
// The lock is fully released during the transition, so another writer may
// complete in between: callers must re-check the guarded condition after
// upgrading, exactly as with ordinary double-checked initialisation.
func (l *ScopedLock) UpgradeToWriter() {
	if l.lockType != Read {
		panic("tasksync: UpgradeToWriter requires a read lock")
	}
	m := l.mutex

	m.mu.Lock()
	m.readers--
	m.cond.Broadcast()
	for {
		if !m.writer && m.readers == 0 {
			m.writer = true
			break
		}
		if m.exec != nil {
			g := m.exec
			m.mu.Unlock()
			m.metrics.RecordHelperJoin()
			g.help()
			m.mu.Lock()
			continue
		}
		m.cond.Wait()
	}
	m.mu.Unlock()
	l.lockType = Write
}

// Execute runs f as parallelizable work while holding the write lock. Valid
// only while holding Write.
//
// f receives the Group that carries its sub-tasks; work spawned through the
// Group fans out to the mutex's pool and to contending acquirers, which are
// offered WorkerRead access to join in. Execute does not return until f has
// returned, every sub-task has finished and every helper has drained.
//
// A failure raised inside f or any of its sub-tasks (error or panic) is
// delivered exactly once, here, to the Execute caller. Helpers never see
// it. The mutex is left in a valid, reusable state afterwards.
func (l *ScopedLock) Execute(f func(g *Group) error) error {
	if l.lockType != Write {
		panic("tasksync: Execute requires a write lock")
	}
	m := l.mutex

	g := NewGroup(m.pool)
	m.mu.Lock()
	m.exec = g
	m.cond.Broadcast()
	m.mu.Unlock()

	start := time.Now()
	err, pv := runCaptured(func() error { return f(g) })
	if err != nil || pv != nil {
		g.recordFailure(err, pv)
	}
	g.waitOwner()

	m.mu.Lock()
	m.exec = nil
	m.cond.Broadcast()
	m.mu.Unlock()
	m.metrics.RecordExecuteDuration(time.Since(start))

	ferr, fpv := g.takeFailure()
	if fpv != nil {
		panic(fpv)
	}
	return ferr
}

// Group returns the Group this handle joined when it acquired WorkerRead
// during an in-progress Execute, so helpers can spawn nested work of their
// own. Nil for any other acquisition.
func (l *ScopedLock) Group() *Group {
	return l.joined
}

// LockType returns what the handle currently holds. No side effects.
func (l *ScopedLock) LockType() LockType {
	return l.lockType
}

// Release returns the mutex to Unlocked from this handle's perspective.
// Releasing an Unlocked handle is a no-op, so deferring Release after a
// failed AcquireOr is safe.
func (l *ScopedLock) Release() {
	m := l.mutex
	switch l.lockType {
	case Unlocked:
		return
	case Read:
		m.mu.Lock()
		m.readers--
		m.cond.Broadcast()
		m.mu.Unlock()
	case Write:
		m.mu.Lock()
		m.writer = false
		m.cond.Broadcast()
		m.mu.Unlock()
	case WorkerRead:
		if l.joined != nil {
			l.joined.detach()
		} else {
			m.mu.Lock()
			m.readers--
			m.cond.Broadcast()
			m.mu.Unlock()
		}
	}
	l.mutex = nil
	l.lockType = Unlocked
	l.joined = nil
}
