package gpu

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/gpuctx/engine/core"
)

type task struct {
	fn   func() error
	done chan error
}

// Dispatcher runs closures on one owning thread. Callers block until their
// closure has run; closures run in submission order.
type Dispatcher struct {
	queue   chan task
	quit    chan struct{}
	stopped chan struct{}
	serving atomic.Bool
	once    sync.Once
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		queue:   make(chan task),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Go spawns the owning goroutine, locked to its OS thread.
func (d *Dispatcher) Go() {
	started := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		d.serve(started)
	}()
	<-started
}

// Serve consumes tasks on the calling goroutine until Stop is called.
func (d *Dispatcher) Serve() {
	d.serve(nil)
}

func (d *Dispatcher) serve(started chan struct{}) {
	ok := d.serving.CompareAndSwap(false, true)
	if started != nil {
		close(started)
	}
	if !ok {
		core.LogWarn("dispatcher is already being served")
		return
	}
	defer close(d.stopped)
	for {
		select {
		case <-d.quit:
			return
		case t := <-d.queue:
			t.done <- run(t.fn)
		}
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatched call panicked: %v: %w", r, core.ErrGeneric)
		}
	}()
	return fn()
}

// Call runs fn on the owning thread and returns its error.
func (d *Dispatcher) Call(fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case d.queue <- t:
	case <-d.quit:
		return fmt.Errorf("dispatcher is stopped: %w", core.ErrInvalidUsage)
	}
	return <-t.done
}

// Stop ends the serving loop. Pending callers get an error.
func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.quit)
		if d.serving.Load() {
			<-d.stopped
		}
	})
}
