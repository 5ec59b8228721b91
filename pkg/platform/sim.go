package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tanagerlabs/go-fathom/pkg/geometry"
)

// SimConfig holds the scripted behavior of the simulator.
type SimConfig struct {
	// Tracking and Overlay form the probed capability.
	Tracking bool
	Overlay  bool

	// FrameInterval is the simulated display-refresh period.
	FrameInterval time.Duration

	// SurfaceAfter is how many frames elapse before the scripted surface
	// starts producing hit-test results.
	SurfaceAfter uint64

	// SupportedSpaces lists the reference spaces the simulated platform
	// accepts. Requests for anything else fail with ErrSpaceUnsupported.
	SupportedSpaces []SpaceKind

	// DenyCause, when set, makes every session request fail with a
	// negotiation error carrying this cause.
	DenyCause Cause

	// FrameBuffer is the frame channel depth. Frames beyond it are
	// dropped, like missed display refreshes.
	FrameBuffer int
}

// DefaultSimConfig simulates a capable device at ~60 Hz.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Tracking:        true,
		Overlay:         true,
		FrameInterval:   16 * time.Millisecond,
		SurfaceAfter:    6,
		SupportedSpaces: []SpaceKind{SpaceLocalFloor, SpaceViewer},
		FrameBuffer:     8,
	}
}

// Simulator is a full in-process tracking device: scripted surfaces, a
// frame clock, fault injection, and an ordered operation log for
// teardown assertions.
type Simulator struct {
	cfg SimConfig

	mu          sync.Mutex
	hitPose     geometry.Pose
	surfaceLost bool
	probes      int
	requests    int
	session     *simSession
	ops         []string
}

var _ Device = (*Simulator)(nil)

// NewSimulator creates a simulator with the given script.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = 16 * time.Millisecond
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 8
	}
	return &Simulator{
		cfg:     cfg,
		hitPose: geometry.Identity(),
	}
}

// Probe reports the scripted capability.
func (s *Simulator) Probe(ctx context.Context) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	return Capability{TrackingSupported: s.cfg.Tracking, ImmersiveOverlay: s.cfg.Overlay}, nil
}

// RequestSession starts a simulated session, or fails with the scripted
// denial cause.
func (s *Simulator) RequestSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	s.mu.Lock()
	s.requests++
	deny := s.cfg.DenyCause
	live := s.session != nil && !s.session.isEnded()
	s.mu.Unlock()

	if deny != "" {
		return nil, NewNegotiationError(deny, "scripted denial")
	}
	if live {
		return nil, NewNegotiationError(CauseConflictingSession, "simulator session already live")
	}

	sess := &simSession{
		sim:    s,
		frames: make(chan Frame, s.cfg.FrameBuffer),
		stop:   make(chan struct{}),
	}
	sess.scene = &simScene{sim: s, resources: make(map[ResourceID]string)}

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	s.record("session.request")
	go sess.pump(s.cfg.FrameInterval)
	return sess, nil
}

// MoveHit repositions the scripted surface hit.
func (s *Simulator) MoveHit(pos geometry.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hitPose.SetPosition(pos)
}

// SetHitPose replaces the scripted hit pose entirely.
func (s *Simulator) SetHitPose(pose geometry.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hitPose = pose
}

// DropSurface makes subsequent frames miss (reticle goes invisible).
func (s *Simulator) DropSurface() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaceLost = true
}

// RestoreSurface resumes hit-test results after DropSurface.
func (s *Simulator) RestoreSurface() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaceLost = false
}

// TriggerSelect fires the session's select handler, like a spatial tap.
func (s *Simulator) TriggerSelect() {
	sess := s.liveSession()
	if sess == nil {
		return
	}
	sess.mu.Lock()
	fn := sess.onSelect
	sess.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// PlatformEnd ends the live session as if the platform did it (device
// disconnect, OS preemption). The frames channel closes.
func (s *Simulator) PlatformEnd() {
	sess := s.liveSession()
	if sess == nil {
		return
	}
	s.record("session.platform-end")
	sess.finish()
}

// currentHit returns the hit pose for the given frame number, if the
// scripted surface is currently detectable.
func (s *Simulator) currentHit(seq uint64) (geometry.Pose, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surfaceLost || seq < s.cfg.SurfaceAfter {
		return geometry.Pose{}, false
	}
	return s.hitPose, true
}

func (s *Simulator) liveSession() *simSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Simulator) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// Ops returns the ordered operation log.
func (s *Simulator) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

// ProbeCount returns how many times Probe was called.
func (s *Simulator) ProbeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// RequestCount returns how many times RequestSession was called.
func (s *Simulator) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// SessionEnded reports whether the most recent session has ended.
func (s *Simulator) SessionEnded() bool {
	sess := s.liveSession()
	return sess == nil || sess.isEnded()
}

// NegotiatedSpace returns the reference space the most recent session
// settled on.
func (s *Simulator) NegotiatedSpace() SpaceKind {
	sess := s.liveSession()
	if sess == nil {
		return ""
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.space
}

// LiveResources returns how many scene resources are still allocated.
func (s *Simulator) LiveResources() int {
	sess := s.liveSession()
	if sess == nil {
		return 0
	}
	sess.scene.mu.Lock()
	defer sess.scene.mu.Unlock()
	return len(sess.scene.resources)
}

// ContextReleased reports whether the graphics context was explicitly
// released.
func (s *Simulator) ContextReleased() bool {
	sess := s.liveSession()
	if sess == nil {
		return false
	}
	sess.scene.mu.Lock()
	defer sess.scene.mu.Unlock()
	return sess.scene.released
}

// ReticleVisible reports the last reticle visibility pushed to the scene.
func (s *Simulator) ReticleVisible() bool {
	sess := s.liveSession()
	if sess == nil {
		return false
	}
	sess.scene.mu.Lock()
	defer sess.scene.mu.Unlock()
	return sess.scene.reticleVisible
}

// simSession is a scripted tracking session.
type simSession struct {
	sim *Simulator

	mu       sync.Mutex
	space    SpaceKind
	onSelect func()
	source   *simHitSource
	ended    bool
	seq      uint64

	scene    *simScene
	frames   chan Frame
	stop     chan struct{}
	stopOnce sync.Once
}

var _ Session = (*simSession)(nil)

// pump generates frames at the display-refresh interval until the
// session ends. Frames the consumer misses are dropped, not queued.
func (s *simSession) pump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.frames)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			f := s.makeFrame()
			select {
			case s.frames <- f:
			default:
			}
		}
	}
}

func (s *simSession) makeFrame() *simFrame {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	src := s.source
	s.mu.Unlock()

	f := &simFrame{seq: seq, ts: time.Now(), src: src}
	if src != nil {
		if pose, ok := s.sim.currentHit(seq); ok {
			f.hits = []geometry.Pose{pose}
		}
	}
	return f
}

func (s *simSession) RequestReferenceSpace(ctx context.Context, kind SpaceKind) error {
	if s.isEnded() {
		return ErrSessionEnded
	}
	for _, supported := range s.sim.cfg.SupportedSpaces {
		if supported == kind {
			s.mu.Lock()
			s.space = kind
			s.mu.Unlock()
			s.sim.record("space." + string(kind))
			return nil
		}
	}
	s.sim.record("space." + string(kind) + ".unsupported")
	return ErrSpaceUnsupported
}

func (s *simSession) RequestHitTestSource(ctx context.Context) (HitTestSource, error) {
	if s.isEnded() {
		return nil, ErrSessionEnded
	}
	src := &simHitSource{session: s}
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	s.sim.record("hitsource.request")
	return src, nil
}

func (s *simSession) Frames() <-chan Frame {
	return s.frames
}

func (s *simSession) OnSelect(fn func()) {
	s.mu.Lock()
	s.onSelect = fn
	s.mu.Unlock()
	if fn == nil {
		s.sim.record("select.clear")
	} else {
		s.sim.record("select.set")
	}
}

func (s *simSession) Scene() Scene {
	return s.scene
}

// End terminates the session. Idempotent; a second End (or an End after
// a platform-initiated end) returns nil.
func (s *simSession) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.sim.record("session.end")
	s.finish()
	return nil
}

func (s *simSession) finish() {
	s.mu.Lock()
	s.ended = true
	s.source = nil
	s.mu.Unlock()
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *simSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// simHitSource is the simulator's hit-test subscription.
type simHitSource struct {
	session *simSession
}

var _ HitTestSource = (*simHitSource)(nil)

func (h *simHitSource) Cancel() error {
	h.session.mu.Lock()
	if h.session.source == h {
		h.session.source = nil
	}
	h.session.mu.Unlock()
	h.session.sim.record("hitsource.cancel")
	return nil
}

// simFrame carries the hits computed when the frame was generated.
type simFrame struct {
	seq  uint64
	ts   time.Time
	src  *simHitSource
	hits []geometry.Pose
}

var _ Frame = (*simFrame)(nil)

func (f *simFrame) Seq() uint64     { return f.seq }
func (f *simFrame) Time() time.Time { return f.ts }

func (f *simFrame) HitTest(src HitTestSource) []geometry.Pose {
	if src == nil || f.src == nil || src != f.src {
		return nil
	}
	return f.hits
}

// simScene is an in-memory scene graph with allocation tracking.
type simScene struct {
	sim *Simulator

	mu             sync.Mutex
	resources      map[ResourceID]string
	nextID         int
	reticlePose    geometry.Pose
	reticleVisible bool
	released       bool
}

var _ Scene = (*simScene)(nil)

func (sc *simScene) CreateMarker(pose geometry.Pose) (ResourceID, error) {
	sc.mu.Lock()
	sc.nextID++
	id := ResourceID(fmt.Sprintf("marker-%d", sc.nextID))
	sc.resources[id] = "marker"
	sc.mu.Unlock()
	sc.sim.record("scene.marker")
	return id, nil
}

func (sc *simScene) CreateSegment(from, to geometry.Vec3) (ResourceID, error) {
	sc.mu.Lock()
	sc.nextID++
	id := ResourceID(fmt.Sprintf("segment-%d", sc.nextID))
	sc.resources[id] = "segment"
	sc.mu.Unlock()
	sc.sim.record("scene.segment")
	return id, nil
}

func (sc *simScene) SetReticle(pose geometry.Pose, visible bool) error {
	sc.mu.Lock()
	sc.reticlePose = pose
	sc.reticleVisible = visible
	sc.mu.Unlock()
	return nil
}

func (sc *simScene) Remove(id ResourceID) error {
	sc.mu.Lock()
	_, ok := sc.resources[id]
	if ok {
		delete(sc.resources, id)
	}
	sc.mu.Unlock()
	if !ok {
		return ErrUnknownResource
	}
	sc.sim.record("scene.remove")
	return nil
}

func (sc *simScene) ReleaseContext() error {
	sc.mu.Lock()
	sc.released = true
	sc.mu.Unlock()
	sc.sim.record("scene.release")
	return nil
}
