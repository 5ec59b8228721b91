package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tanagerlabs/go-fathom/pkg/geometry"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

// session is the app side of one tracking session on the device. A
// single readLoop goroutine demultiplexes the socket: request results
// are matched to waiters by message ID, frames and selects are
// unsolicited.
//
// Ending the session does not close the socket. The control channel
// stays up so scene cleanup can still run; ReleaseContext closes it.
type session struct {
	conn *websocket.Conn
	cfg  Config
	log  *slog.Logger

	// writeMu serializes socket writes.
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *Message
	onSelect func()
	source   *hitSource
	ended    bool

	frames     chan platform.Frame
	framesOnce sync.Once

	// done closes when the connection is unusable. In-flight requests
	// fail immediately instead of waiting out their timeout.
	done     chan struct{}
	doneOnce sync.Once

	scene *scene
}

var _ platform.Session = (*session)(nil)

func newSession(conn *websocket.Conn, cfg Config, logger *slog.Logger) *session {
	s := &session{
		conn:    conn,
		cfg:     cfg,
		log:     logger,
		pending: make(map[string]chan *Message),
		frames:  make(chan platform.Frame, cfg.FrameBuffer),
		done:    make(chan struct{}),
	}
	s.scene = &scene{sess: s}
	return s
}

// readLoop owns all reads from the socket. It exits when the connection
// drops or is closed by teardown.
func (s *session) readLoop() {
	defer s.closeFrames()
	defer s.teardownConn("read loop exited")

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !s.isEnded() {
				s.log.Warn("session channel read failed", "error", err)
			}
			return
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			s.log.Warn("dropping malformed message", "error", err)
			continue
		}

		if msg.ID != "" {
			s.deliverReply(msg)
			continue
		}

		switch msg.Type {
		case TypeFrame:
			s.handleFrame(msg)

		case TypeSelect:
			s.mu.Lock()
			fn := s.onSelect
			s.mu.Unlock()
			// The handler re-enters the session for scene ops, which
			// need this loop alive to receive their results.
			if fn != nil {
				go fn()
			}

		case TypeEnded:
			var data EndedData
			if err := msg.ParseData(&data); err == nil && data.Reason != "" {
				s.log.Info("session ended by device", "reason", data.Reason)
			} else {
				s.log.Info("session ended by device")
			}
			s.markEnded()
			s.closeFrames()
			// Keep reading: scene cleanup results still arrive here.

		default:
			s.log.Debug("ignoring unexpected message", "type", msg.Type)
		}
	}
}

func (s *session) deliverReply(msg *Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.mu.Unlock()
	if !ok {
		s.log.Debug("reply for unknown request", "id", msg.ID, "type", msg.Type)
		return
	}
	ch <- msg
}

func (s *session) handleFrame(msg *Message) {
	var data FrameData
	if err := msg.ParseData(&data); err != nil {
		s.log.Warn("dropping malformed frame", "error", err)
		return
	}

	s.mu.Lock()
	src := s.source
	s.mu.Unlock()

	f := &frame{
		seq: data.Seq,
		ts:  time.UnixMilli(data.TS),
		src: src,
	}
	if src != nil {
		for _, flat := range data.Hits {
			pose, err := geometry.PoseFromFlat16(flat)
			if err != nil {
				s.log.Warn("dropping malformed hit pose", "error", err)
				continue
			}
			f.hits = append(f.hits, pose)
		}
	}

	select {
	case s.frames <- f:
	default:
		// Consumer is behind. Drop the frame like a missed refresh.
	}
}

// request sends a message and waits for the device's reply.
func (s *session) request(ctx context.Context, msgType MessageType, data interface{}) (*Message, error) {
	id := uuid.NewString()
	reply := make(chan *Message, 1)

	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.send(msgType, id, data); err != nil {
		return nil, fmt.Errorf("sending %s: %w", msgType, err)
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, platform.ErrSessionEnded
	case <-timer.C:
		return nil, fmt.Errorf("bridge: %s timed out after %v", msgType, s.cfg.RequestTimeout)
	}
}

// send writes one message. ID may be empty for one-way notices.
func (s *session) send(msgType MessageType, id string, data interface{}) error {
	msg, err := NewMessage(msgType, id, data)
	if err != nil {
		return err
	}
	raw, err := msg.Bytes()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, raw)
}

func (s *session) RequestReferenceSpace(ctx context.Context, kind platform.SpaceKind) error {
	if s.isEnded() {
		return platform.ErrSessionEnded
	}

	reply, err := s.request(ctx, TypeSpaceRequest, SpaceRequestData{Kind: string(kind)})
	if err != nil {
		return fmt.Errorf("requesting %s space: %w", kind, err)
	}

	var result SpaceResultData
	if err := reply.ParseData(&result); err != nil {
		return fmt.Errorf("parsing space result: %w", err)
	}
	if result.Unsupported {
		return platform.ErrSpaceUnsupported
	}
	if !result.OK {
		return fmt.Errorf("bridge: %s space rejected: %s", kind, result.Reason)
	}

	s.log.Debug("reference space established", "kind", kind)
	return nil
}

func (s *session) RequestHitTestSource(ctx context.Context) (platform.HitTestSource, error) {
	if s.isEnded() {
		return nil, platform.ErrSessionEnded
	}

	reply, err := s.request(ctx, TypeSourceRequest, nil)
	if err != nil {
		return nil, fmt.Errorf("requesting hit-test source: %w", err)
	}

	var result SourceResultData
	if err := reply.ParseData(&result); err != nil {
		return nil, fmt.Errorf("parsing hit-test source result: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("bridge: hit-test source rejected: %s", result.Reason)
	}

	src := &hitSource{sess: s}
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
	return src, nil
}

func (s *session) Frames() <-chan platform.Frame {
	return s.frames
}

func (s *session) OnSelect(fn func()) {
	s.mu.Lock()
	s.onSelect = fn
	s.mu.Unlock()
}

func (s *session) Scene() platform.Scene {
	return s.scene
}

// End notifies the device and stops frame delivery. Idempotent. The
// socket stays open for scene cleanup until ReleaseContext.
func (s *session) End() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	if err := s.send(TypeSessionEnd, "", nil); err != nil {
		s.log.Debug("end notice not delivered", "error", err)
	}
	s.closeFrames()
	return nil
}

func (s *session) markEnded() {
	s.mu.Lock()
	s.ended = true
	s.source = nil
	s.mu.Unlock()
}

func (s *session) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *session) closeFrames() {
	s.framesOnce.Do(func() { close(s.frames) })
}

// teardownConn marks the connection unusable and closes it. In-flight
// requests unblock with ErrSessionEnded.
func (s *session) teardownConn(reason string) {
	s.doneOnce.Do(func() {
		s.markEnded()
		close(s.done)
		s.conn.Close()
		s.log.Debug("session channel closed", "reason", reason)
	})
}

// abort discards a session that never finished negotiating.
func (s *session) abort() {
	s.teardownConn("negotiation aborted")
}

// hitSource is the live hit-test subscription on the device.
type hitSource struct {
	sess *session

	once sync.Once
}

var _ platform.HitTestSource = (*hitSource)(nil)

// Cancel stops hit testing. One-way; safe on a dead connection.
func (h *hitSource) Cancel() error {
	h.once.Do(func() {
		h.sess.mu.Lock()
		if h.sess.source == h {
			h.sess.source = nil
		}
		h.sess.mu.Unlock()

		select {
		case <-h.sess.done:
			return
		default:
		}
		if err := h.sess.send(TypeSourceCancel, "", nil); err != nil {
			h.sess.log.Debug("hit-test cancel not delivered", "error", err)
		}
	})
	return nil
}

// frame is one tracking frame delivered by the device. Hits were
// computed device-side when the frame was generated.
type frame struct {
	seq  uint64
	ts   time.Time
	src  *hitSource
	hits []geometry.Pose
}

var _ platform.Frame = (*frame)(nil)

func (f *frame) Seq() uint64     { return f.seq }
func (f *frame) Time() time.Time { return f.ts }

func (f *frame) HitTest(src platform.HitTestSource) []geometry.Pose {
	if src == nil || f.src == nil || src != f.src {
		return nil
	}
	return f.hits
}

// scene performs resource ops over the control channel. The device
// assigns resource handles.
type scene struct {
	sess *session
}

var _ platform.Scene = (*scene)(nil)

func (sc *scene) op(data SceneOpData) (SceneResultData, error) {
	reply, err := sc.sess.request(context.Background(), TypeSceneOp, data)
	if err != nil {
		return SceneResultData{}, err
	}
	var result SceneResultData
	if err := reply.ParseData(&result); err != nil {
		return SceneResultData{}, fmt.Errorf("parsing scene result: %w", err)
	}
	return result, nil
}

func (sc *scene) CreateMarker(pose geometry.Pose) (platform.ResourceID, error) {
	result, err := sc.op(SceneOpData{Op: "marker", Pose: pose.Flat16()})
	if err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("bridge: marker rejected: %s", result.Reason)
	}
	return platform.ResourceID(result.ID), nil
}

func (sc *scene) CreateSegment(from, to geometry.Vec3) (platform.ResourceID, error) {
	result, err := sc.op(SceneOpData{
		Op:   "segment",
		From: []float64{from.X, from.Y, from.Z},
		To:   []float64{to.X, to.Y, to.Z},
	})
	if err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("bridge: segment rejected: %s", result.Reason)
	}
	return platform.ResourceID(result.ID), nil
}

// SetReticle is one-way. Reticle updates arrive every frame; waiting on
// acks would stall the render loop.
func (sc *scene) SetReticle(pose geometry.Pose, visible bool) error {
	select {
	case <-sc.sess.done:
		return platform.ErrSessionEnded
	default:
	}
	return sc.sess.send(TypeReticle, "", ReticleData{Pose: pose.Flat16(), Visible: visible})
}

func (sc *scene) Remove(id platform.ResourceID) error {
	result, err := sc.op(SceneOpData{Op: "remove", ID: string(id)})
	if err != nil {
		return err
	}
	if !result.OK {
		if result.Reason == "unknown-resource" {
			return platform.ErrUnknownResource
		}
		return fmt.Errorf("bridge: remove rejected: %s", result.Reason)
	}
	return nil
}

// ReleaseContext tells the device to drop the overlay context, then
// closes the control channel. Always the last call on a session.
func (sc *scene) ReleaseContext() error {
	if err := sc.sess.send(TypeSceneRelease, "", nil); err != nil {
		sc.sess.log.Debug("release notice not delivered", "error", err)
	}
	sc.sess.teardownConn("context released")
	return nil
}
