// Package platform defines the narrow interface between the measurement
// engine and a spatial-tracking device, along with the backends that
// implement it.
//
// This package follows the Interface Segregation Principle (ISP): the
// engine depends only on the handful of operations a tracking platform
// must provide: capability probe, session negotiation, reference-space
// selection, per-frame hit-testing, select events, and scene commands.
// Three backends implement it: the real device daemon (bridge), a full
// in-process simulator (sim), and a no-tracking stub.
package platform

import (
	"context"
	"time"

	"github.com/tanagerlabs/go-fathom/pkg/geometry"
)

// Capability describes what the device can do. Probed once at entry and
// immutable for the process lifetime; absence of tracking support is a
// normal outcome that routes callers to manual entry, not an error.
type Capability struct {
	TrackingSupported bool `json:"tracking_supported"`
	ImmersiveOverlay  bool `json:"immersive_overlay"`
}

// Feature names a session feature for negotiation.
type Feature string

const (
	// FeatureHitTest is the required feature: per-frame surface hit-testing.
	FeatureHitTest Feature = "hit-test"

	// FeatureOverlay is the optional on-viewport control overlay.
	FeatureOverlay Feature = "overlay"
)

// SpaceKind names a reference space (the coordinate frame a session
// reports poses relative to).
type SpaceKind string

const (
	// SpaceLocalFloor anchors poses to the detected floor plane.
	SpaceLocalFloor SpaceKind = "local-floor"

	// SpaceViewer anchors poses to the viewer. The fallback when
	// floor-relative tracking is unavailable.
	SpaceViewer SpaceKind = "viewer"
)

// SessionConfig is the feature set requested from the device.
type SessionConfig struct {
	Required []Feature
	Optional []Feature
}

// Device is the capability interface selected once at startup.
type Device interface {
	// Probe reports device capability. Fails soft: a device without
	// tracking support returns Capability{TrackingSupported: false} and a
	// nil error. An error means the device could not be reached at all.
	Probe(ctx context.Context) (Capability, error)

	// RequestSession negotiates a tracking session. Failures carry a
	// *NegotiationError so callers can show targeted remediation.
	RequestSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Session is one live tracking session. At most one exists at a time.
type Session interface {
	// RequestReferenceSpace asks the platform to report poses relative to
	// the given space. Returns ErrSpaceUnsupported when this particular
	// space is unavailable (the caller falls back to the next candidate);
	// any other error aborts negotiation.
	RequestReferenceSpace(ctx context.Context, kind SpaceKind) error

	// RequestHitTestSource acquires the session's hit-test source.
	RequestHitTestSource(ctx context.Context) (HitTestSource, error)

	// Frames delivers per-frame tracking updates at display-refresh rate.
	// The channel is closed when the session ends, including
	// platform-initiated ends.
	Frames() <-chan Frame

	// OnSelect registers the handler for platform-level "select" gestures
	// (spatial taps). Passing nil removes the handler.
	OnSelect(fn func())

	// Scene returns the device scene graph handle.
	Scene() Scene

	// End terminates the session. Idempotent; tolerates the session
	// already having ended.
	End() error
}

// Frame is one tracking frame. HitTest is synchronous data access on the
// frame's already-computed results, safe to call from the render loop.
type Frame interface {
	Seq() uint64
	Time() time.Time

	// HitTest returns this frame's surface intersections for the given
	// source, closest first. Empty when no surface is hit.
	HitTest(src HitTestSource) []geometry.Pose
}

// HitTestSource is a live hit-test subscription. Cancel releases it;
// sources are invalidated automatically when their session ends.
type HitTestSource interface {
	Cancel() error
}

// ResourceID identifies an allocated scene resource.
type ResourceID string

// Scene is the device scene graph: the markers, the connecting segment,
// and the reticle the user sees in the tracking viewport. All resources
// created through it must be removed on teardown, and the graphics
// context released explicitly.
type Scene interface {
	// CreateMarker places a point marker at the given pose.
	CreateMarker(pose geometry.Pose) (ResourceID, error)

	// CreateSegment draws a line between two world points.
	CreateSegment(from, to geometry.Vec3) (ResourceID, error)

	// SetReticle updates the placement reticle. Called at frame rate;
	// implementations must not block on a round trip.
	SetReticle(pose geometry.Pose, visible bool) error

	// Remove disposes one resource.
	Remove(id ResourceID) error

	// ReleaseContext explicitly releases the underlying graphics context.
	// Platform graphics contexts are scarce and eagerly exhausted across
	// repeated sessions; relying on garbage collection is not enough.
	ReleaseContext() error
}
