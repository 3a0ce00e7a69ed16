package mcpcache

import (
	"sync"
	"sync/atomic"
)

// connection is one registry entry: the lifecycle state cell, the live
// handle (nil while a background task owns the slot), the in-flight
// request counter, and the per-server rebuild gate.
type connection struct {
	name    string
	state   atomic.Int32
	handle  atomic.Pointer[Handle]
	pending atomic.Int32

	// rebuildMu serializes rebuilds for this server. Acquired only with
	// TryLock; a losing rebuild aborts instead of queueing.
	rebuildMu sync.Mutex
}

// newConnection returns an entry that is connected when h is non-nil and
// a reconnecting placeholder otherwise.
func newConnection(name string, h Handle) *connection {
	c := &connection{name: name}
	if h != nil {
		c.setHandle(h)
		c.state.Store(int32(stateConnected))
	} else {
		c.state.Store(int32(stateReconnecting))
	}
	return c
}

func (c *connection) currentState() connState {
	return connState(c.state.Load())
}

// transition moves from -> to and reports whether the swap applied.
func (c *connection) transition(from, to connState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *connection) setHandle(h Handle) {
	if h == nil {
		c.handle.Store(nil)
		return
	}
	c.handle.Store(&h)
}

func (c *connection) currentHandle() Handle {
	if p := c.handle.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *connection) beginRequest() {
	c.pending.Add(1)
}

func (c *connection) endRequest() {
	c.pending.Add(-1)
}

func (c *connection) pendingCount() int32 {
	return c.pending.Load()
}
