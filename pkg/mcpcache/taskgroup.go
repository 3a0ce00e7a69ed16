package mcpcache

import (
	"sync"
	"time"
)

// taskGroup tracks one family of background goroutines so shutdown can
// stop admission and drain them with a bound. In inline mode submitted
// tasks run on the caller's goroutine; tests use that to make background
// work synchronous. The health loops never run inline.
type taskGroup struct {
	name string

	mu     sync.Mutex
	closed bool
	inline bool

	wg sync.WaitGroup
}

func newTaskGroup(name string) *taskGroup {
	return &taskGroup{name: name}
}

// Go runs fn on a new goroutine, or on the caller's goroutine in inline
// mode. It reports false when the group is closed and fn was not run.
func (g *taskGroup) Go(fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	inline := g.inline
	g.mu.Unlock()

	run := func() {
		defer g.wg.Done()
		fn()
	}
	if inline {
		run()
		return true
	}
	go run()
	return true
}

// CloseAndWait stops admission and waits up to d for running tasks to
// finish. It reports false on timeout; stragglers keep running.
func (g *taskGroup) CloseAndWait(d time.Duration) bool {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
