package core

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// Signal: foreground dispatch subscription
// =============================================================================

// Signal is an ordered set of subscriber slots, each accepting a
// zero-argument callable and guaranteeing its execution on the host's
// foreground thread. The host's event loop registers itself once at startup
// (see ForegroundLoop for a ready-made loop); there is no teardown contract
// beyond process exit.
type Signal struct {
	mu    sync.Mutex
	slots []func(fn func())
}

// Connect registers slot. Slots are invoked in connection order.
func (s *Signal) Connect(slot func(fn func())) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, slot)
}

// Call hands fn to every connected slot.
func (s *Signal) Call(fn func()) {
	s.mu.Lock()
	slots := make([]func(fn func()), len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, slot := range slots {
		slot(fn)
	}
}

// Empty reports whether no slot is connected.
func (s *Signal) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots) == 0
}

// =============================================================================
// Dispatcher: process-wide coordination context
// =============================================================================

// DispatcherConfig carries optional collaborators for a Dispatcher.
type DispatcherConfig struct {
	Logger          Logger
	Metrics         Metrics
	HistoryCapacity int
}

// Dispatcher bridges pool-goroutine computation and the single designated
// foreground thread, and owns the per-subject background task registry.
//
// It is an explicit, dependency-injected context object: construct one at
// process startup and pass it to the components that need it. It deliberately
// replaces the process-wide globals the same machinery tends to grow.
type Dispatcher struct {
	pool     ThreadPool
	uiSignal Signal
	logger   Logger
	metrics  Metrics

	subjectsMu sync.Mutex
	subjects   map[any]*BackgroundTask

	history        executionHistory
	isolationDepth atomic.Int32
}

// NewDispatcher creates a Dispatcher running background work on pool.
func NewDispatcher(pool ThreadPool) *Dispatcher {
	return NewDispatcherWithConfig(pool, nil)
}

// NewDispatcherWithConfig creates a Dispatcher with explicit collaborators.
func NewDispatcherWithConfig(pool ThreadPool, config *DispatcherConfig) *Dispatcher {
	if pool == nil {
		panic("tasksync: NewDispatcher requires a ThreadPool")
	}
	d := &Dispatcher{
		pool:     pool,
		logger:   NewDefaultLogger(),
		metrics:  &NilMetrics{},
		subjects: make(map[any]*BackgroundTask),
		history:  newExecutionHistory(defaultTaskHistoryCapacity),
	}
	if config != nil {
		if config.Logger != nil {
			d.logger = config.Logger
		}
		if config.Metrics != nil {
			d.metrics = config.Metrics
		}
		if config.HistoryCapacity > 0 {
			d.history = newExecutionHistory(config.HistoryCapacity)
		}
	}
	return d
}

// Pool returns the dispatcher's execution pool.
func (d *Dispatcher) Pool() ThreadPool { return d.pool }

// Metrics returns the dispatcher's metrics collector.
func (d *Dispatcher) Metrics() Metrics { return d.metrics }

// CallOnUIThread marshals fn for execution on the foreground thread via the
// dispatch signal. The calling goroutine does not block on fn's completion.
//
// If the host has not connected a slot yet, fn is dropped with a warning:
// there is nowhere it could ever run.
func (d *Dispatcher) CallOnUIThread(fn func()) {
	if d.uiSignal.Empty() {
		d.logger.Warn("CallOnUIThread with no foreground slot connected; dropping callable")
		return
	}
	d.uiSignal.Call(fn)
}

// CallOnUIThreadSignal exposes the subscriber list so the host's event loop
// can register itself as the executor of marshaled callables. This is the
// sole foreground-execution collaborator the core depends on.
func (d *Dispatcher) CallOnUIThreadSignal() *Signal {
	return &d.uiSignal
}

// CallOnBackgroundThread schedules fn as a new BackgroundTask for subject
// and returns ownership of the task to the caller.
func (d *Dispatcher) CallOnBackgroundThread(subject any, fn WorkFunc) *BackgroundTask {
	return NewBackgroundTask(d, subject, fn)
}

// Isolate runs fn synchronously on the calling goroutine inside a nested
// scheduling scope.
//
// In the original arena-based design a thread waiting inside fn could steal
// unrelated outer-scope tasks and re-enter a lock it already holds, so
// isolation had to fence the scheduler. Here every waiting participant only
// ever runs sub-tasks of the specific Group it joined, so the stealing
// hazard cannot arise; Isolate remains the explicit scope call sites use
// when holding a TaskMutex across nested parallel work, and keeps the
// nesting observable.
func (d *Dispatcher) Isolate(fn func()) {
	d.isolationDepth.Add(1)
	defer d.isolationDepth.Add(-1)
	fn()
}

// RecentTasks returns terminal background task records, newest first.
func (d *Dispatcher) RecentTasks(limit int) []TaskRecord {
	return d.history.Recent(limit)
}

// LiveTaskCount returns the number of subjects with a live background task.
func (d *Dispatcher) LiveTaskCount() int {
	d.subjectsMu.Lock()
	defer d.subjectsMu.Unlock()
	return len(d.subjects)
}

// installSubjectTask enforces at-most-one-live-task-per-subject: any prior
// live task for t's subject is cancelled and waited out before t takes the
// slot. Never called with subjectsMu held.
func (d *Dispatcher) installSubjectTask(t *BackgroundTask) {
	for {
		d.subjectsMu.Lock()
		prior := d.subjects[t.subject]
		if prior == nil {
			d.subjects[t.subject] = t
			d.subjectsMu.Unlock()
			return
		}
		d.subjectsMu.Unlock()

		d.logger.Debug("superseding background task",
			F("subject", subjectLabel(t.subject)), F("prior", prior.id), F("next", t.id))
		prior.CancelAndWait()
		// The prior task vacated its slot on completion; loop in case
		// another creator raced us into it.
	}
}

// settleSubjectTask records a terminal task and vacates its subject slot.
func (d *Dispatcher) settleSubjectTask(t *BackgroundTask, record TaskRecord) {
	d.subjectsMu.Lock()
	if d.subjects[t.subject] == t {
		delete(d.subjects, t.subject)
	}
	d.subjectsMu.Unlock()

	d.history.Add(record)
	d.metrics.RecordBackgroundTask(record.Status.String(), record.Duration)
	if record.Err != nil {
		d.logger.Error("background task failed",
			F("subject", record.Subject), F("task", record.TaskID), F("err", record.Err))
	}
}
