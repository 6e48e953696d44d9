package motion

import "sync/atomic"

// Control is the state the worker shares with whoever stops it. It is created
// before the worker starts and never reset.
type Control struct {
	abort  atomic.Bool
	acked  atomic.Bool
	cycles atomic.Uint64
}

// RequestAbort asks the loop to stop at its next check point.
func (c *Control) RequestAbort() { c.abort.Store(true) }

func (c *Control) AbortRequested() bool { return c.abort.Load() }

// Acknowledge is called by the worker once it no longer writes outputs.
func (c *Control) Acknowledge() { c.acked.Store(true) }

func (c *Control) Acknowledged() bool { return c.acked.Load() }

// Cycles is the number of loop cycles run since startup.
func (c *Control) Cycles() uint64 { return c.cycles.Load() }
