package core

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestDispatcher(t *testing.T, workers int) (*Dispatcher, *testThreadPool) {
	t.Helper()
	pool := newTestThreadPool(workers)
	pool.start()
	t.Cleanup(pool.stop)

	d := NewDispatcherWithConfig(pool, &DispatcherConfig{Logger: &NoOpLogger{}})
	return d, pool
}

// TestBackgroundTask_RunsToCompletion:
// Given a scheduled task
// When its work function returns nil
// Then Wait returns nil and the status is done.
func TestBackgroundTask_RunsToCompletion(t *testing.T) {
	d, _ := newTestDispatcher(t, 2)

	var ran atomic.Bool
	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		ran.Store(true)
		return nil
	})

	if err := task.Wait(); err != nil {
		t.Fatalf("Wait: got = %v, want nil", err)
	}
	if !ran.Load() {
		t.Error("work function did not run")
	}
	if got := task.Status(); got != StatusDone {
		t.Errorf("status: got = %v, want done", got)
	}
	if !task.Done() {
		t.Error("Done: got = false, want true")
	}
}

// TestBackgroundTask_CancelAndWait:
// Given a running task polling its canceller
// When CancelAndWait is called
// Then the task unwinds, Wait returns nil and the status is cancelled.
func TestBackgroundTask_CancelAndWait(t *testing.T) {
	d, _ := newTestDispatcher(t, 2)

	started := make(chan struct{})
	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		close(started)
		for {
			if err := c.Check(); err != nil {
				return err
			}
			time.Sleep(time.Millisecond)
		}
	})

	<-started
	if err := task.CancelAndWait(); err != nil {
		t.Fatalf("CancelAndWait: got = %v, want nil", err)
	}
	if got := task.Status(); got != StatusCancelled {
		t.Errorf("status: got = %v, want cancelled", got)
	}
	if task.Err() != nil {
		t.Errorf("Err: got = %v, want nil for a cancelled task", task.Err())
	}
}

// TestBackgroundTask_FailureReturnedFromWait:
// Given a task whose work function fails
// When Wait is called
// Then the failure is returned and the status is failed.
func TestBackgroundTask_FailureReturnedFromWait(t *testing.T) {
	d, _ := newTestDispatcher(t, 2)

	boom := errors.New("boom")
	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		return boom
	})

	if err := task.Wait(); !errors.Is(err, boom) {
		t.Fatalf("Wait: got = %v, want boom", err)
	}
	if got := task.Status(); got != StatusFailed {
		t.Errorf("status: got = %v, want failed", got)
	}
	// Wait is idempotent; the failure stays available.
	if err := task.Wait(); !errors.Is(err, boom) {
		t.Errorf("second Wait: got = %v, want boom", err)
	}
}

// TestBackgroundTask_PanicBecomesFailure:
// Given a task whose work function panics
// When Wait is called
// Then a wrapped error is returned instead of crashing a pool worker.
func TestBackgroundTask_PanicBecomesFailure(t *testing.T) {
	d, _ := newTestDispatcher(t, 2)

	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		panic("kaboom")
	})

	err := task.Wait()
	if err == nil {
		t.Fatal("Wait: got = nil, want panic error")
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error should carry the panic value, got %q", err)
	}
	if got := task.Status(); got != StatusFailed {
		t.Errorf("status: got = %v, want failed", got)
	}
}

// TestBackgroundTask_PreStartCancelSkipsBody:
// Given a task cancelled before any worker claims it
// When it eventually runs
// Then the work function body is skipped entirely.
func TestBackgroundTask_PreStartCancelSkipsBody(t *testing.T) {
	pool := newTestThreadPool(1)
	d := NewDispatcherWithConfig(pool, &DispatcherConfig{Logger: &NoOpLogger{}})

	var ran atomic.Bool
	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		ran.Store(true)
		return nil
	})

	// The pool has not started, so the task is still pending.
	task.Cancel()
	pool.start()
	defer pool.stop()

	if err := task.Wait(); err != nil {
		t.Fatalf("Wait: got = %v, want nil", err)
	}
	if ran.Load() {
		t.Error("work function body ran despite pre-start cancellation")
	}
	if got := task.Status(); got != StatusCancelled {
		t.Errorf("status: got = %v, want cancelled", got)
	}
}

// TestBackgroundTask_AtMostOnePerSubject:
// Given a live task for a subject
// When a second task is created for the same subject
// Then the first is cancelled and waited out before the second starts.
func TestBackgroundTask_AtMostOnePerSubject(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)

	firstStarted := make(chan struct{})
	firstUnwound := make(chan struct{})
	first := NewBackgroundTask(d, "node-42", func(c *Canceller) error {
		close(firstStarted)
		for c.Check() == nil {
			time.Sleep(time.Millisecond)
		}
		close(firstUnwound)
		return ErrCancelled
	})
	<-firstStarted

	secondStarted := make(chan struct{})
	second := NewBackgroundTask(d, "node-42", func(c *Canceller) error {
		close(secondStarted)
		return nil
	})

	select {
	case <-firstUnwound:
	default:
		t.Error("second task was created before the first unwound")
	}
	if got := first.Status(); got != StatusCancelled {
		t.Errorf("first status: got = %v, want cancelled", got)
	}

	<-secondStarted
	if err := second.Wait(); err != nil {
		t.Fatalf("second Wait: got = %v, want nil", err)
	}
	if got := d.LiveTaskCount(); got != 0 {
		t.Errorf("live tasks after completion: got = %d, want 0", got)
	}
}

// TestBackgroundTask_DistinctSubjectsRunConcurrently verifies the per-subject
// rule does not serialize unrelated subjects.
func TestBackgroundTask_DistinctSubjectsRunConcurrently(t *testing.T) {
	d, _ := newTestDispatcher(t, 4)

	var wg sync.WaitGroup
	barrier := make(chan struct{})
	var concurrent atomic.Int32

	tasks := make([]*BackgroundTask, 3)
	for i := range tasks {
		wg.Add(1)
		tasks[i] = NewBackgroundTask(d, i, func(c *Canceller) error {
			defer wg.Done()
			concurrent.Add(1)
			<-barrier
			return nil
		})
	}

	// All three must be in flight at once before the barrier opens.
	deadline := time.Now().Add(time.Second)
	for concurrent.Load() != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("concurrent tasks: got = %d, want 3", concurrent.Load())
		}
		time.Sleep(time.Millisecond)
	}
	close(barrier)
	wg.Wait()

	for i, task := range tasks {
		if err := task.Wait(); err != nil {
			t.Errorf("task %d Wait: got = %v, want nil", i, err)
		}
	}
}

// TestBackgroundTask_WaitFromPoolWorker:
// Given a single-worker pool whose worker waits on a still-pending task
// When Wait claims it
// Then the task runs inline on the waiting worker instead of deadlocking.
func TestBackgroundTask_WaitFromPoolWorker(t *testing.T) {
	pool := newTestThreadPool(1)
	pool.start()
	defer pool.stop()
	d := NewDispatcherWithConfig(pool, &DispatcherConfig{Logger: &NoOpLogger{}})

	result := make(chan error, 1)
	pool.Post(func() {
		// This occupies the only worker, so the inner task's own pool
		// slot can never run it.
		inner := NewBackgroundTask(d, "inner", func(c *Canceller) error {
			return nil
		})
		result <- inner.Wait()
	})

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("inner Wait: got = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait from the only pool worker deadlocked")
	}
}

// TestBackgroundTask_Close verifies Close is a terminal, idempotent teardown.
func TestBackgroundTask_Close(t *testing.T) {
	d, _ := newTestDispatcher(t, 2)

	task := NewBackgroundTask(d, "subject-a", func(c *Canceller) error {
		for c.Check() == nil {
			time.Sleep(time.Millisecond)
		}
		return ErrCancelled
	})

	if err := task.Close(); err != nil {
		t.Fatalf("Close: got = %v, want nil", err)
	}
	if !task.Done() {
		t.Error("task not terminal after Close")
	}
	if err := task.Close(); err != nil {
		t.Errorf("second Close: got = %v, want nil", err)
	}
}

// TestDispatcher_RecentTasks verifies terminal tasks land in history with
// status and subject, newest first.
func TestDispatcher_RecentTasks(t *testing.T) {
	pool := newTestThreadPool(2)
	pool.start()
	defer pool.stop()
	metrics := newRecordingMetrics()
	d := NewDispatcherWithConfig(pool, &DispatcherConfig{
		Logger:          &NoOpLogger{},
		Metrics:         metrics,
		HistoryCapacity: 8,
	})

	NewBackgroundTask(d, "a", func(c *Canceller) error { return nil }).Wait()
	NewBackgroundTask(d, "b", func(c *Canceller) error { return errors.New("boom") }).Wait()

	records := d.RecentTasks(0)
	if len(records) != 2 {
		t.Fatalf("records: got = %d, want 2", len(records))
	}
	if records[0].Subject != "b" || records[0].Status != StatusFailed {
		t.Errorf("newest record: got = %s/%v, want b/failed", records[0].Subject, records[0].Status)
	}
	if records[1].Subject != "a" || records[1].Status != StatusDone {
		t.Errorf("oldest record: got = %s/%v, want a/done", records[1].Subject, records[1].Status)
	}
	if got := metrics.backgroundTaskCount("done"); got != 1 {
		t.Errorf("done metric: got = %d, want 1", got)
	}
	if got := metrics.backgroundTaskCount("failed"); got != 1 {
		t.Errorf("failed metric: got = %d, want 1", got)
	}
}

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusPending:   "pending",
		StatusRunning:   "running",
		StatusDone:      "done",
		StatusFailed:    "failed",
		StatusCancelled: "cancelled",
		Status(99):      "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String(): got = %q, want %q", status, got, want)
		}
	}
}
