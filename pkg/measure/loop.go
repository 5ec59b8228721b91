package measure

import (
	"context"
	"errors"

	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

// runLoop consumes session frames until the channel closes. Each frame
// runs to completion before the next is taken; cancellation is a flag
// checked at the top, not preemption.
func (e *Engine) runLoop(sess platform.Session, done chan struct{}) {
	defer close(done)

	for frame := range sess.Frames() {
		if e.stopped.Load() {
			// Torn down: drain frames without touching state.
			continue
		}
		e.step(sess, frame)
	}

	if !e.stopped.Load() {
		// Platform-initiated end: same teardown, same ordering. On its
		// own goroutine because teardown waits for this one to exit.
		e.log.Info("session ended by platform")
		go e.teardown("platform-end")
	}
}

// step advances fast-path state for one frame: lazy hit-test source
// acquisition, hit-test query, in-place reticle update, the one-time
// surface-acquired transition. It never drives UI text; transitions
// only raise the change signal for the UI layer to pick up.
func (e *Engine) step(sess platform.Session, frame platform.Frame) {
	e.ensureHitSource(sess)

	e.mu.Lock()
	src := e.hitSource
	if src == nil {
		e.mu.Unlock()
		return
	}

	hits := frame.HitTest(src)
	wasVisible := e.reticleVis
	transitioned := false

	if len(hits) > 0 {
		// Closest result wins. The pose is value storage mutated in
		// place, not a fresh allocation per frame.
		e.reticle = hits[0]
		e.reticleVis = true
		if !e.surfaceSeen {
			e.surfaceSeen = true
			if e.placement.SurfaceAcquired() {
				transitioned = true
			}
		}
	} else {
		e.reticleVis = false
	}

	reticle := e.reticle
	visible := e.reticleVis
	scene := sess.Scene()
	e.mu.Unlock()

	if err := scene.SetReticle(reticle, visible); err != nil {
		e.log.Debug("reticle update dropped", "error", err)
	}

	if transitioned || visible != wasVisible {
		e.signalChanged()
	}
}

// ensureHitSource requests the hit-test source on the first frame that
// needs one. At most one request is outstanding at a time; a failure
// is retried on a later frame, except after session end.
func (e *Engine) ensureHitSource(sess platform.Session) {
	e.mu.Lock()
	if e.hitSource != nil || e.hitPending {
		e.mu.Unlock()
		return
	}
	e.hitPending = true
	e.mu.Unlock()

	src, err := sess.RequestHitTestSource(context.Background())

	e.mu.Lock()
	e.hitPending = false
	if err != nil {
		e.mu.Unlock()
		if !errors.Is(err, platform.ErrSessionEnded) {
			e.log.Warn("hit-test source request failed", "error", err)
		}
		return
	}
	if e.session != sess {
		// Torn down while the request was in flight.
		e.mu.Unlock()
		src.Cancel()
		return
	}
	e.hitSource = src
	e.mu.Unlock()
}
