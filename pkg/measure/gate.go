package measure

import (
	"sync"
	"time"
)

// Gate is the input-debounce mutex between on-screen controls and
// spatial placement. A control activation and a platform tap can land
// in the same input window when overlay controls sit on top of the
// tracking viewport; closing the gate while a control handler runs
// keeps that tap from being misread as a placement select.
type Gate struct {
	window time.Duration

	mu     sync.Mutex
	open   bool
	reopen *time.Timer
}

// NewGate creates an open gate with the given reopen window.
func NewGate(window time.Duration) *Gate {
	return &Gate{window: window, open: true}
}

// Open reports whether placement input is currently accepted.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// GuardedInvoke closes the gate synchronously, runs action, then
// schedules the gate to reopen one window later. Closures are not
// additive: a later call cancels the pending reopen, so the gate
// reopens one full window after the most recent call.
func (g *Gate) GuardedInvoke(action func()) {
	g.close()

	action()

	g.mu.Lock()
	// The action may have stopped the gate; reopening still counts
	// from now, after the action finished.
	g.open = false
	if g.reopen != nil {
		g.reopen.Stop()
	}
	g.reopen = time.AfterFunc(g.window, func() {
		g.mu.Lock()
		g.open = true
		g.reopen = nil
		g.mu.Unlock()
	})
	g.mu.Unlock()
}

func (g *Gate) close() {
	g.mu.Lock()
	g.open = false
	if g.reopen != nil {
		g.reopen.Stop()
		g.reopen = nil
	}
	g.mu.Unlock()
}

// Stop cancels any pending reopen and leaves the gate closed. Used at
// teardown; a subsequent GuardedInvoke re-arms the gate normally.
func (g *Gate) Stop() {
	g.close()
}
