package measure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanagerlabs/go-fathom/internal/log"
	"github.com/tanagerlabs/go-fathom/pkg/geometry"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

// Engine owns at most one live tracking session and everything that
// hangs off it: the render loop, the placement state machine, the
// placement gate, and the scene resources.
//
// Two access paths coexist. The render loop mutates fast-path state
// (reticle pose, placement) under the engine mutex once per frame. The
// UI layer never touches that state directly: it reads Snapshot()
// copies, on its own cadence, after Changed() signals. UI-originated
// calls go through the placement gate; the raw Select path does not,
// because it is the input the gate guards against.
type Engine struct {
	device platform.Device
	cfg    Config
	log    *slog.Logger
	gate   *Gate

	mu          sync.RWMutex
	capability  *platform.Capability
	session     platform.Session
	space       platform.SpaceKind
	hitSource   platform.HitTestSource
	hitPending  bool
	starting    bool
	entryCancel context.CancelFunc
	reticle     geometry.Pose
	reticleVis  bool
	surfaceSeen bool
	placement   placement
	confirmed   bool
	markers     [2]platform.ResourceID
	segment     platform.ResourceID
	resources   resourceSet
	onDistance  func(meters float64)
	loopDone    chan struct{}

	// stopped is the cooperative cancellation flag for the render
	// loop, checked at the top of every frame.
	stopped atomic.Bool
	closed  atomic.Bool

	// changed carries at most one pending change signal; the UI layer
	// coalesces however many transitions happened since its last read.
	changed chan struct{}
}

// NewEngine creates an engine on the given device backend.
func NewEngine(device platform.Device, cfg Config) (*Engine, error) {
	if device == nil {
		return nil, fmt.Errorf("measure: device is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		device:    device,
		cfg:       cfg,
		log:       log.With("component", "engine"),
		gate:      NewGate(cfg.GateWindow),
		placement: newPlacement(),
		reticle:   geometry.Identity(),
		changed:   make(chan struct{}, 1),
	}, nil
}

// Capability probes the device once and caches the answer. Absence of
// tracking support is a normal outcome, not an error; probe failures
// are returned and not cached, so a flaky first probe can be retried.
func (e *Engine) Capability(ctx context.Context) (platform.Capability, error) {
	e.mu.RLock()
	if e.capability != nil {
		c := *e.capability
		e.mu.RUnlock()
		return c, nil
	}
	e.mu.RUnlock()

	probed, err := e.device.Probe(ctx)
	if err != nil {
		return platform.Capability{}, fmt.Errorf("probing capability: %w", err)
	}

	e.mu.Lock()
	if e.capability == nil {
		e.capability = &probed
	}
	c := *e.capability
	e.mu.Unlock()
	return c, nil
}

// StartSession negotiates and starts a tracking session. Gate-wrapped
// like every other UI-originated call.
func (e *Engine) StartSession(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	var err error
	e.gate.GuardedInvoke(func() { err = e.startSession(ctx) })
	return err
}

func (e *Engine) startSession(ctx context.Context) error {
	capability, err := e.Capability(ctx)
	if err != nil {
		return err
	}
	if !capability.TrackingSupported {
		// Manual-entry fallback is the caller's branch. Negotiation is
		// never attempted against a device that cannot track.
		return ErrTrackingUnsupported
	}

	e.mu.Lock()
	if e.session != nil || e.starting {
		e.mu.Unlock()
		return ErrSessionActive
	}
	e.starting = true
	entryCtx, cancel := context.WithCancel(ctx)
	e.entryCancel = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.starting = false
		e.entryCancel = nil
		e.mu.Unlock()
	}()

	// Entry-transition buffer: the prior UI surface needs to finish
	// unmounting before the platform attaches its overlay.
	entry := time.NewTimer(e.cfg.EntryDelay)
	defer entry.Stop()
	select {
	case <-entry.C:
	case <-entryCtx.Done():
		return entryCtx.Err()
	}

	sess, err := e.device.RequestSession(entryCtx, platform.SessionConfig{
		Required: []platform.Feature{platform.FeatureHitTest},
		Optional: []platform.Feature{platform.FeatureOverlay},
	})
	if err != nil {
		return fmt.Errorf("requesting session: %w", err)
	}

	space, err := e.negotiateSpace(entryCtx, sess)
	if err != nil {
		if endErr := sess.End(); endErr != nil {
			e.log.Warn("ending failed session", "error", endErr)
		}
		return err
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.session = sess
	e.space = space
	e.hitSource = nil
	e.hitPending = false
	e.placement = newPlacement()
	e.confirmed = false
	e.reticleVis = false
	e.surfaceSeen = false
	e.markers = [2]platform.ResourceID{}
	e.segment = ""
	e.resources = resourceSet{}
	e.loopDone = done
	e.stopped.Store(false)
	e.mu.Unlock()

	sess.OnSelect(e.Select)
	go e.runLoop(sess, done)

	e.log.Info("tracking session started", "space", string(space))
	e.signalChanged()
	return nil
}

// negotiateSpace walks the configured preference order. A candidate is
// skipped only when the device reports that exact space unsupported;
// any other failure aborts. All candidates rejected is fatal for this
// session; the caller may retry the whole session.
func (e *Engine) negotiateSpace(ctx context.Context, sess platform.Session) (platform.SpaceKind, error) {
	for _, kind := range e.cfg.SpaceOrder {
		err := sess.RequestReferenceSpace(ctx, kind)
		if err == nil {
			return kind, nil
		}
		if errors.Is(err, platform.ErrSpaceUnsupported) {
			e.log.Debug("reference space unavailable, trying next", "kind", string(kind))
			continue
		}
		return "", fmt.Errorf("negotiating %s space: %w", kind, err)
	}
	return "", platform.ErrNoReferenceSpace
}

// Select is the single handler for placement input, whether it came
// from a platform spatial tap or the on-screen place control. It is
// deliberately not gate-wrapped. Ignored silently when the reticle is
// not visible, the gate is closed, or the current phase defines no
// transition.
func (e *Engine) Select() {
	if e.closed.Load() || e.stopped.Load() {
		return
	}
	if !e.gate.Open() {
		return
	}

	e.mu.Lock()
	sess := e.session
	if sess == nil || !e.reticleVis {
		e.mu.Unlock()
		return
	}

	point := e.reticle.Position()
	result := e.placement.Place(point)
	if result == placeIgnored {
		e.mu.Unlock()
		return
	}

	scene := sess.Scene()
	switch result {
	case placedFirst:
		if id, err := scene.CreateMarker(e.reticle); err != nil {
			e.log.Warn("placing first marker failed", "error", err)
		} else {
			e.markers[0] = id
			e.resources.Track(id)
		}
	case placedSecond:
		if id, err := scene.CreateMarker(e.reticle); err != nil {
			e.log.Warn("placing second marker failed", "error", err)
		} else {
			e.markers[1] = id
			e.resources.Track(id)
		}
		points := e.placement.Points()
		if id, err := scene.CreateSegment(points[0], points[1]); err != nil {
			e.log.Warn("drawing segment failed", "error", err)
		} else {
			e.segment = id
			e.resources.Track(id)
		}
		if dist, ok := e.placement.Distance(); ok {
			e.log.Info("distance measured", "meters", dist)
		}
	}
	e.mu.Unlock()
	e.signalChanged()
}

// ConfirmMeasurement fires the outbound distance callback, exactly once
// per completed measurement and never automatically.
func (e *Engine) ConfirmMeasurement() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	var err error
	e.gate.GuardedInvoke(func() { err = e.confirm() })
	return err
}

func (e *Engine) confirm() error {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	dist, ok := e.placement.Distance()
	if !ok {
		e.mu.Unlock()
		return ErrNotComplete
	}
	if e.confirmed {
		e.mu.Unlock()
		return ErrAlreadyConfirmed
	}
	e.confirmed = true
	callback := e.onDistance
	e.mu.Unlock()

	// Outside the lock: the consumer may call straight back into the
	// engine (snapshots, calibration defaults).
	if callback != nil {
		callback(dist)
	}
	e.log.Info("measurement confirmed", "meters", dist)
	e.signalChanged()
	return nil
}

// Undo removes the single placed point. A no-op without error when
// nothing is placed.
func (e *Engine) Undo() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	var err error
	e.gate.GuardedInvoke(func() { err = e.undo() })
	return err
}

func (e *Engine) undo() error {
	e.mu.Lock()
	sess := e.session
	if sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if !e.placement.Undo() {
		e.mu.Unlock()
		return nil
	}
	marker := e.markers[0]
	e.markers[0] = ""
	e.resources.Forget(marker)
	scene := sess.Scene()
	if marker != "" {
		if err := scene.Remove(marker); err != nil {
			e.log.Warn("removing marker failed", "error", err)
		}
	}
	e.mu.Unlock()
	e.signalChanged()
	return nil
}

// Redo clears a completed measurement for another attempt. The phase
// returns to ready-first, never to scanning, and the confirmation
// becomes available again.
func (e *Engine) Redo() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	var err error
	e.gate.GuardedInvoke(func() { err = e.redo() })
	return err
}

func (e *Engine) redo() error {
	e.mu.Lock()
	sess := e.session
	if sess == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	if !e.placement.Redo() {
		e.mu.Unlock()
		return nil
	}
	e.confirmed = false
	stale := []platform.ResourceID{e.markers[0], e.markers[1], e.segment}
	e.markers = [2]platform.ResourceID{}
	e.segment = ""
	scene := sess.Scene()
	for _, id := range stale {
		if id == "" {
			continue
		}
		e.resources.Forget(id)
		if err := scene.Remove(id); err != nil {
			e.log.Warn("removing stale resource failed", "id", string(id), "error", err)
		}
	}
	e.mu.Unlock()
	e.signalChanged()
	return nil
}

// Cancel tears the live session down. The engine stays usable; a new
// session may be started afterwards.
func (e *Engine) Cancel() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	var err error
	e.gate.GuardedInvoke(func() { err = e.cancel() })
	return err
}

func (e *Engine) cancel() error {
	e.mu.Lock()
	pendingStart := e.entryCancel != nil
	if pendingStart {
		e.entryCancel()
	}
	active := e.session != nil
	e.mu.Unlock()

	if active {
		e.teardown("user-cancel")
		return nil
	}
	if pendingStart {
		// The start that was still negotiating returns an error to its
		// own caller; nothing else to tear down.
		return nil
	}
	return ErrNoSession
}

// Close shuts the engine down for good. Idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	if e.entryCancel != nil {
		e.entryCancel()
	}
	e.mu.Unlock()
	e.teardown("engine-close")
	e.gate.Stop()
	return nil
}

// teardown runs the strictly ordered shutdown sequence: stop the loop,
// end the session, remove listeners, cancel timers, dispose resources,
// release the graphics context. Errors along the way are logged and
// never re-raised; teardown always completes.
func (e *Engine) teardown(reason string) {
	e.mu.Lock()
	sess := e.session
	if sess == nil {
		// Already torn down, or lost the race to a concurrent teardown.
		e.mu.Unlock()
		return
	}

	// 1. Loop stop. Set while holding the claim, so a teardown that
	// lost the race can never halt a session started after it. Frames
	// already in flight become no-ops.
	e.stopped.Store(true)
	e.session = nil
	src := e.hitSource
	e.hitSource = nil
	done := e.loopDone
	e.loopDone = nil
	disposals := e.resources.Drain()
	e.markers = [2]platform.ResourceID{}
	e.segment = ""
	e.mu.Unlock()

	e.log.Info("tearing down session", "reason", reason)
	scene := sess.Scene()

	// 2. End the session, tolerating an already-ended one. The frames
	// channel closes behind it, letting the loop goroutine drain out.
	if src != nil {
		if err := src.Cancel(); err != nil {
			e.log.Warn("cancelling hit-test source failed", "error", err)
		}
	}
	if err := sess.End(); err != nil {
		e.log.Warn("ending session failed", "error", err)
	}
	if done != nil {
		<-done
	}

	// 3. Listener removal.
	sess.OnSelect(nil)

	// 4. Timer cancellation.
	e.gate.Stop()

	// 5. Resource disposal.
	for _, id := range disposals {
		if err := scene.Remove(id); err != nil && !errors.Is(err, platform.ErrUnknownResource) {
			e.log.Warn("disposing resource failed", "id", string(id), "error", err)
		}
	}

	// 6. Context release. Graphics contexts are scarce across repeated
	// start/stop cycles; an unreleased one eventually wedges the host.
	if err := scene.ReleaseContext(); err != nil {
		e.log.Warn("releasing graphics context failed", "error", err)
	}

	e.mu.Lock()
	e.placement.Reset()
	e.reticleVis = false
	e.surfaceSeen = false
	e.confirmed = false
	e.space = ""
	e.mu.Unlock()

	e.log.Info("session teardown complete", "reason", reason)
	e.signalChanged()
}

// OnDistanceMeasured registers the outbound consumer of confirmed
// distances. Pass nil to clear.
func (e *Engine) OnDistanceMeasured(fn func(meters float64)) {
	e.mu.Lock()
	e.onDistance = fn
	e.mu.Unlock()
}

// Snapshot returns the current UI projection. Safe from any goroutine;
// always a copy, never a live reference into fast-path state.
func (e *Engine) Snapshot() Projection {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := e.session != nil
	phase := PhaseIdle
	if active {
		phase = e.placement.Phase()
	}

	p := Projection{
		SessionActive:  active,
		Phase:          phase,
		Instruction:    instructionFor(phase, e.confirmed),
		Confirmed:      e.confirmed,
		ReticleVisible: e.reticleVis,
		Space:          e.space,
		Controls:       controlsFor(phase, e.confirmed),
	}

	if dist, ok := e.placement.Distance(); ok {
		d := dist
		p.DistanceMeters = &d
	}
	if e.reticleVis {
		pos := e.reticle.Position()
		p.ReticlePos = &[3]float64{pos.X, pos.Y, pos.Z}
	}
	for _, pt := range e.placement.Points() {
		p.Points = append(p.Points, [3]float64{pt.X, pt.Y, pt.Z})
	}
	return p
}

// Changed returns the change-signal channel. It carries at most one
// pending signal; readers snapshot after draining it.
func (e *Engine) Changed() <-chan struct{} {
	return e.changed
}

func (e *Engine) signalChanged() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}
