package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ForegroundLoop binds a dedicated goroutine that executes marshaled
// callables sequentially, in arrival order. It is the host-side counterpart
// of Dispatcher.CallOnUIThreadSignal: a host without its own event loop can
// connect a ForegroundLoop and get a conforming foreground thread.
//
// Hosts that already have an event loop (a GUI toolkit's main loop, say)
// connect that instead and never need this type.
type ForegroundLoop struct {
	workQueue chan func()

	ctx    context.Context
	cancel context.CancelFunc

	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool

	logger Logger
}

// NewForegroundLoop creates and starts a ForegroundLoop. It immediately
// spawns the dedicated goroutine.
func NewForegroundLoop(logger Logger) *ForegroundLoop {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &ForegroundLoop{
		workQueue: make(chan func(), 100), // Buffer to avoid blocking senders
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
		logger:    logger,
	}
	go l.runLoop()
	return l
}

// Connect registers this loop as a slot on sig, making it the executor of
// callables marshaled through the signal.
func (l *ForegroundLoop) Connect(sig *Signal) {
	sig.Connect(l.Post)
}

// Post queues fn for execution on the loop's goroutine. Dropped silently if
// the loop has stopped.
func (l *ForegroundLoop) Post(fn func()) {
	if l.closed.Load() {
		return
	}
	select {
	case <-l.ctx.Done():
		return
	case l.workQueue <- fn:
	}
}

// WaitIdle blocks until all callables queued before the call have executed.
// Implemented by posting a barrier callable and waiting for it.
func (l *ForegroundLoop) WaitIdle(ctx context.Context) error {
	if l.closed.Load() {
		return fmt.Errorf("tasksync: foreground loop is stopped")
	}

	done := make(chan struct{})
	l.Post(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops the loop and waits for the current callable to finish.
func (l *ForegroundLoop) Stop() {
	l.once.Do(func() {
		l.closed.Store(true)
		l.cancel()
		<-l.stopped
	})
}

// runLoop occupies the dedicated goroutine.
func (l *ForegroundLoop) runLoop() {
	defer close(l.stopped)

	for {
		select {
		case fn := <-l.workQueue:
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						l.logger.Error("foreground callable panicked",
							F("panic", rec), F("stack", string(debug.Stack())))
					}
				}()
				fn()
			}()

		case <-l.ctx.Done():
			return
		}
	}
}
