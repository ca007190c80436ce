package viewmodel

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	ErrStopped        = errors.New("view model stopped")
	ErrAlreadyRunning = errors.New("view model already running")
)

// loop serializes every state change of a view model onto one goroutine.
// Network calls run elsewhere and post their results back as closures.
type loop struct {
	cmds    chan func()
	stopped chan struct{}
	running atomic.Bool
}

func newLoop() loop {
	return loop{
		cmds:    make(chan func(), 16),
		stopped: make(chan struct{}),
	}
}

// serve runs commands until ctx is done. start runs first, on the loop.
func (l *loop) serve(ctx context.Context, start func()) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.stopped)

	if start != nil {
		start()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.cmds:
			fn()
		}
	}
}

// do runs fn on the loop and waits for it to finish. It blocks until the loop
// is running.
func (l *loop) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case l.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// post queues fn without waiting. It is dropped once the loop has stopped.
func (l *loop) post(fn func()) {
	select {
	case l.cmds <- fn:
	case <-l.stopped:
	}
}
