package core

import (
	"sync"
	"time"
)

// testThreadPool is a minimal fixed-size ThreadPool for core tests,
// mirroring the root package's WorkerPool without importing it.
type testThreadPool struct {
	queue   *TaskQueue
	signal  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	workers int
}

func newTestThreadPool(workers int) *testThreadPool {
	return &testThreadPool{
		queue:   NewTaskQueue(),
		signal:  make(chan struct{}, workers*2),
		stopCh:  make(chan struct{}),
		workers: workers,
	}
}

func (p *testThreadPool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				fn, ok := p.queue.Pop()
				if !ok {
					select {
					case <-p.signal:
						continue
					case <-p.stopCh:
						return
					}
				}
				fn()
			}
		}()
	}
}

func (p *testThreadPool) stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.queue.Clear()
}

func (p *testThreadPool) Post(fn func()) {
	p.queue.Push(fn)
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *testThreadPool) WorkerCount() int {
	return p.workers
}

// recordingMetrics captures metric calls for assertions.
type recordingMetrics struct {
	mu              sync.Mutex
	lockAcquired    map[string]int
	helperJoins     int
	executeCount    int
	backgroundTasks map[string]int
	queueDepths     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		lockAcquired:    make(map[string]int),
		backgroundTasks: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordLockAcquired(lockType string, wait time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockAcquired[lockType]++
}

func (m *recordingMetrics) RecordHelperJoin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.helperJoins++
}

func (m *recordingMetrics) RecordExecuteDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executeCount++
}

func (m *recordingMetrics) RecordBackgroundTask(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backgroundTasks[status]++
}

func (m *recordingMetrics) RecordQueueDepth(poolName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepths++
}

func (m *recordingMetrics) helperJoinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.helperJoins
}

func (m *recordingMetrics) lockAcquiredCount(lockType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockAcquired[lockType]
}

func (m *recordingMetrics) backgroundTaskCount(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backgroundTasks[status]
}
