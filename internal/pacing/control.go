// Package pacing provides the cooperative run controls shared by the job
// controller and its worker, and the randomized delays the worker uses to
// keep its traffic from looking automated.
package pacing

import (
	"sync"
	"sync/atomic"
)

// Control carries the pause and stop flags for one run. The controller
// writes them from any goroutine; the worker only reads them at its check
// points. Stop is terminal.
type Control struct {
	paused   atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// NewControl returns a Control in the running, unpaused state.
func NewControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Pause asks the worker to halt at its next check point.
func (c *Control) Pause() { c.paused.Store(true) }

// Resume clears a pause.
func (c *Control) Resume() { c.paused.Store(false) }

// Stop asks the worker to finish. It is safe to call more than once.
func (c *Control) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)
		close(c.done)
	})
}

// Paused reports whether a pause is in effect.
func (c *Control) Paused() bool { return c.paused.Load() }

// Stopped reports whether Stop has been called.
func (c *Control) Stopped() bool { return c.stopped.Load() }

// Done is closed when Stop is called, for select-based waits.
func (c *Control) Done() <-chan struct{} { return c.done }
