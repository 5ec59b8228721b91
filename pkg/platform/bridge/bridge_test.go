package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanagerlabs/go-fathom/pkg/geometry"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fakeDaemon stands in for the device-side bridge daemon.
type fakeDaemon struct {
	t        *testing.T
	upgrader websocket.Upgrader

	denyCause         string
	unsupportedSpaces map[string]bool
	hitPos            geometry.Vec3

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	sessionReqs  int
	reticleCount int
	removed      []string
	endNotices   int
	released     bool
	nextResource int
	frameSeq     uint64
	pushing      atomic.Bool
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	return &fakeDaemon{
		t:                 t,
		unsupportedSpaces: map[string]bool{},
		hitPos:            geometry.Vec3{X: 1, Y: 2, Z: 3},
	}
}

// serve starts an httptest server speaking the daemon protocol and
// returns its host:port.
func (d *fakeDaemon) serve() string {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/capability", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(platform.Capability{TrackingSupported: true, ImmersiveOverlay: true})
	})
	mux.HandleFunc("/ws/session", d.handleSession)

	srv := httptest.NewServer(mux)
	d.t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func (d *fakeDaemon) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseMessage(raw)
		if err != nil {
			continue
		}

		switch msg.Type {
		case TypeSessionRequest:
			d.mu.Lock()
			d.sessionReqs++
			d.mu.Unlock()
			if d.denyCause != "" {
				d.reply(conn, msg.ID, TypeSessionResult, SessionResultData{Cause: d.denyCause, Detail: "scripted"})
				continue
			}
			d.reply(conn, msg.ID, TypeSessionResult, SessionResultData{OK: true})

		case TypeSpaceRequest:
			var req SpaceRequestData
			msg.ParseData(&req)
			if d.unsupportedSpaces[req.Kind] {
				d.reply(conn, msg.ID, TypeSpaceResult, SpaceResultData{Unsupported: true, Reason: "no such space"})
			} else {
				d.reply(conn, msg.ID, TypeSpaceResult, SpaceResultData{OK: true})
			}

		case TypeSourceRequest:
			d.reply(conn, msg.ID, TypeSourceResult, SourceResultData{OK: true})
			if d.pushing.CompareAndSwap(false, true) {
				go d.pushFrames(conn)
			}

		case TypeSourceCancel:
			d.pushing.Store(false)

		case TypeSceneOp:
			var op SceneOpData
			msg.ParseData(&op)
			d.handleSceneOp(conn, msg.ID, op)

		case TypeReticle:
			d.mu.Lock()
			d.reticleCount++
			d.mu.Unlock()

		case TypeSessionEnd:
			d.pushing.Store(false)
			d.mu.Lock()
			d.endNotices++
			d.mu.Unlock()

		case TypeSceneRelease:
			d.mu.Lock()
			d.released = true
			d.mu.Unlock()
		}
	}
}

func (d *fakeDaemon) handleSceneOp(conn *websocket.Conn, id string, op SceneOpData) {
	switch op.Op {
	case "marker", "segment":
		d.mu.Lock()
		d.nextResource++
		rid := op.Op + "-" + strconv.Itoa(d.nextResource)
		d.mu.Unlock()
		d.reply(conn, id, TypeSceneResult, SceneResultData{OK: true, ID: rid})
	case "remove":
		if op.ID == "ghost" {
			d.reply(conn, id, TypeSceneResult, SceneResultData{Reason: "unknown-resource"})
			return
		}
		d.mu.Lock()
		d.removed = append(d.removed, op.ID)
		d.mu.Unlock()
		d.reply(conn, id, TypeSceneResult, SceneResultData{OK: true})
	default:
		d.reply(conn, id, TypeSceneResult, SceneResultData{Reason: "unknown op"})
	}
}

func (d *fakeDaemon) pushFrames(conn *websocket.Conn) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if !d.pushing.Load() {
			return
		}
		d.mu.Lock()
		d.frameSeq++
		seq := d.frameSeq
		pos := d.hitPos
		d.mu.Unlock()

		pose := geometry.Translation(pos)
		data := FrameData{Seq: seq, TS: time.Now().UnixMilli(), Hits: [][]float64{pose.Flat16()}}
		if err := d.push(conn, TypeFrame, data); err != nil {
			return
		}
	}
}

func (d *fakeDaemon) reply(conn *websocket.Conn, id string, msgType MessageType, data interface{}) {
	msg, err := NewMessage(msgType, id, data)
	if err != nil {
		d.t.Errorf("building %s reply: %v", msgType, err)
		return
	}
	raw, _ := msg.Bytes()
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	conn.WriteMessage(websocket.TextMessage, raw)
}

func (d *fakeDaemon) push(conn *websocket.Conn, msgType MessageType, data interface{}) error {
	msg, err := NewMessage(msgType, "", data)
	if err != nil {
		return err
	}
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func testDevice(t *testing.T, daemon *fakeDaemon) *Device {
	t.Helper()
	addr := daemon.serve()
	cfg := DefaultConfig(addr)
	cfg.RequestTimeout = 2 * time.Second
	dev, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return dev
}

func TestDeviceProbe(t *testing.T) {
	dev := testDevice(t, newFakeDaemon(t))

	capability, err := dev.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if !capability.TrackingSupported || !capability.ImmersiveOverlay {
		t.Errorf("Probe() = %+v, want full capability", capability)
	}
}

func TestProbeUnreachableDaemon(t *testing.T) {
	dev, err := New(DefaultConfig("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := dev.Probe(ctx); err == nil {
		t.Error("Probe() against dead daemon = nil error")
	}
}

func TestSessionDenied(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.denyCause = "permission-denied"
	dev := testDevice(t, daemon)

	_, err := dev.RequestSession(context.Background(), platform.SessionConfig{
		Required: []platform.Feature{platform.FeatureHitTest},
	})
	ne, ok := platform.AsNegotiation(err)
	if !ok {
		t.Fatalf("RequestSession() error = %v, want NegotiationError", err)
	}
	if ne.Cause != platform.CausePermissionDenied {
		t.Errorf("cause = %q, want %q", ne.Cause, platform.CausePermissionDenied)
	}
}

func TestSessionLifecycle(t *testing.T) {
	daemon := newFakeDaemon(t)
	daemon.unsupportedSpaces["local-floor"] = true
	dev := testDevice(t, daemon)
	ctx := context.Background()

	sess, err := dev.RequestSession(ctx, platform.SessionConfig{
		Required: []platform.Feature{platform.FeatureHitTest},
	})
	if err != nil {
		t.Fatalf("RequestSession() error = %v", err)
	}

	// Space fallback signal: unsupported spaces return the sentinel.
	if err := sess.RequestReferenceSpace(ctx, platform.SpaceLocalFloor); !errors.Is(err, platform.ErrSpaceUnsupported) {
		t.Errorf("RequestReferenceSpace(local-floor) error = %v, want ErrSpaceUnsupported", err)
	}
	if err := sess.RequestReferenceSpace(ctx, platform.SpaceViewer); err != nil {
		t.Fatalf("RequestReferenceSpace(viewer) error = %v", err)
	}

	src, err := sess.RequestHitTestSource(ctx)
	if err != nil {
		t.Fatalf("RequestHitTestSource() error = %v", err)
	}

	// Daemon pushes frames carrying a hit at the scripted position.
	var hit geometry.Pose
	deadline := time.After(2 * time.Second)
frames:
	for {
		select {
		case f, ok := <-sess.Frames():
			if !ok {
				t.Fatal("frames channel closed early")
			}
			if hits := f.HitTest(src); len(hits) > 0 {
				hit = hits[0]
				break frames
			}
		case <-deadline:
			t.Fatal("no hit frame arrived")
		}
	}
	pos := hit.Position()
	if !floatEquals(pos.X, 1) || !floatEquals(pos.Y, 2) || !floatEquals(pos.Z, 3) {
		t.Errorf("hit position = %+v, want {1 2 3}", pos)
	}

	scene := sess.Scene()

	marker, err := scene.CreateMarker(geometry.Translation(pos))
	if err != nil {
		t.Fatalf("CreateMarker() error = %v", err)
	}
	if marker == "" {
		t.Error("CreateMarker() returned empty resource id")
	}

	segment, err := scene.CreateSegment(geometry.Vec3{}, pos)
	if err != nil {
		t.Fatalf("CreateSegment() error = %v", err)
	}
	if segment == marker {
		t.Errorf("segment id %q collides with marker id", segment)
	}

	if err := scene.SetReticle(geometry.Translation(pos), true); err != nil {
		t.Errorf("SetReticle() error = %v", err)
	}
	waitFor(t, time.Second, "reticle delivery", func() bool {
		daemon.mu.Lock()
		defer daemon.mu.Unlock()
		return daemon.reticleCount > 0
	})

	if err := scene.Remove(platform.ResourceID("ghost")); !errors.Is(err, platform.ErrUnknownResource) {
		t.Errorf("Remove(ghost) error = %v, want ErrUnknownResource", err)
	}
	if err := scene.Remove(marker); err != nil {
		t.Errorf("Remove(%q) error = %v", marker, err)
	}

	if err := src.Cancel(); err != nil {
		t.Errorf("Cancel() error = %v", err)
	}
	if err := sess.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := sess.End(); err != nil {
		t.Errorf("second End() error = %v, want nil", err)
	}
	waitFor(t, time.Second, "end notice", func() bool {
		daemon.mu.Lock()
		defer daemon.mu.Unlock()
		return daemon.endNotices == 1
	})

	// Frames stop after end, then the channel drains closed.
	waitFor(t, time.Second, "frames channel close", func() bool {
		select {
		case _, ok := <-sess.Frames():
			return !ok
		default:
			return false
		}
	})

	// Scene ops still work between end and release.
	if err := scene.Remove(segment); err != nil {
		t.Errorf("Remove(%q) after end error = %v", segment, err)
	}

	if err := scene.ReleaseContext(); err != nil {
		t.Errorf("ReleaseContext() error = %v", err)
	}
	waitFor(t, time.Second, "release notice", func() bool {
		daemon.mu.Lock()
		defer daemon.mu.Unlock()
		return daemon.released
	})

	// The control channel is gone; further ops fail fast.
	if _, err := scene.CreateMarker(geometry.Identity()); err == nil {
		t.Error("CreateMarker() after release = nil error")
	}
}

func TestSelectDispatch(t *testing.T) {
	daemon := newFakeDaemon(t)
	dev := testDevice(t, daemon)

	sess, err := dev.RequestSession(context.Background(), platform.SessionConfig{})
	if err != nil {
		t.Fatalf("RequestSession() error = %v", err)
	}
	defer func() {
		sess.End()
		sess.Scene().ReleaseContext()
	}()

	var fired atomic.Int32
	sess.OnSelect(func() { fired.Add(1) })

	daemon.mu.Lock()
	conn := daemon.conn
	daemon.mu.Unlock()
	if err := daemon.push(conn, TypeSelect, nil); err != nil {
		t.Fatalf("pushing select: %v", err)
	}

	waitFor(t, time.Second, "select dispatch", func() bool {
		return fired.Load() == 1
	})
}

func TestDeviceEndedNotice(t *testing.T) {
	daemon := newFakeDaemon(t)
	dev := testDevice(t, daemon)

	sess, err := dev.RequestSession(context.Background(), platform.SessionConfig{})
	if err != nil {
		t.Fatalf("RequestSession() error = %v", err)
	}

	daemon.mu.Lock()
	conn := daemon.conn
	daemon.mu.Unlock()
	if err := daemon.push(conn, TypeEnded, EndedData{Reason: "device shutdown"}); err != nil {
		t.Fatalf("pushing ended: %v", err)
	}

	waitFor(t, time.Second, "frames channel close", func() bool {
		select {
		case _, ok := <-sess.Frames():
			return !ok
		default:
			return false
		}
	})

	// App-side End after the device already ended is tolerated.
	if err := sess.End(); err != nil {
		t.Errorf("End() after device end error = %v, want nil", err)
	}
	if err := sess.RequestReferenceSpace(context.Background(), platform.SpaceViewer); !errors.Is(err, platform.ErrSessionEnded) {
		t.Errorf("RequestReferenceSpace() after end error = %v, want ErrSessionEnded", err)
	}

	sess.Scene().ReleaseContext()
}
