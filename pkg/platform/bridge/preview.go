package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"

	"github.com/tanagerlabs/go-fathom/internal/log"
)

const (
	// previewDecodeInterval is how often accumulated H264 is rendered
	// to a JPEG still.
	previewDecodeInterval = 100 * time.Millisecond

	previewHandshakeTimeout = 10 * time.Second
	previewTrackTimeout     = 15 * time.Second
)

// Preview streams the device camera, with the tracking overlay burned
// in, over WebRTC. The daemon is the producer; this client only
// receives. Frames are decoded to JPEG stills for the dashboard.
type Preview struct {
	addr string
	log  *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex
	pc   *webrtc.PeerConnection

	frameMu     sync.RWMutex
	latestFrame []byte

	trackReady chan struct{}
	closed     atomic.Bool
}

// NewPreview creates a preview client for the daemon at addr.
func NewPreview(addr string) *Preview {
	return &Preview{
		addr:       addr,
		log:        log.With("component", "preview", "device", addr),
		trackReady: make(chan struct{}, 1),
	}
}

// signalMessage is the preview signalling envelope. The daemon offers;
// this client answers. ICE flows both ways.
type signalMessage struct {
	Type      string                   `json:"type"` // "offer", "answer", "ice"
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Connect dials the signalling channel and blocks until video flows or
// the track timeout expires.
func (p *Preview) Connect() error {
	url := fmt.Sprintf("ws://%s/ws/preview", p.addr)
	dialer := websocket.Dialer{HandshakeTimeout: previewHandshakeTimeout}

	var err error
	p.ws, _, err = dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("preview signalling connect failed: %w", err)
	}

	if err := p.createPeerConnection(); err != nil {
		p.ws.Close()
		return fmt.Errorf("preview peer connection failed: %w", err)
	}

	go p.handleSignalling()

	select {
	case <-p.trackReady:
		p.log.Info("preview video connected")
	case <-time.After(previewTrackTimeout):
		p.Close()
		return fmt.Errorf("timeout waiting for preview video")
	}
	return nil
}

func (p *Preview) createPeerConnection() error {
	var err error
	p.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	// Receive-only: the daemon produces, we consume.
	if _, err = p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.log.Debug("preview track arrived", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go p.handleVideoTrack(track)
		}
	})

	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		p.sendSignal(signalMessage{Type: "ice", Candidate: &init})
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("preview connection state", "state", state.String())
	})

	return nil
}

func (p *Preview) handleSignalling() {
	for !p.closed.Load() {
		_, raw, err := p.ws.ReadMessage()
		if err != nil {
			if !p.closed.Load() {
				p.log.Warn("preview signalling read failed", "error", err)
			}
			return
		}

		var msg signalMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			p.log.Warn("dropping malformed signal", "error", err)
			continue
		}

		switch msg.Type {
		case "offer":
			p.handleOffer(msg.SDP)
		case "ice":
			if msg.Candidate != nil {
				if err := p.pc.AddICECandidate(*msg.Candidate); err != nil {
					p.log.Warn("adding ICE candidate failed", "error", err)
				}
			}
		}
	}
}

func (p *Preview) handleOffer(sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		p.log.Warn("setting remote description failed", "error", err)
		return
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		p.log.Warn("creating answer failed", "error", err)
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		p.log.Warn("setting local description failed", "error", err)
		return
	}

	p.sendSignal(signalMessage{Type: "answer", SDP: answer.SDP})
}

func (p *Preview) sendSignal(msg signalMessage) {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	if err := p.ws.WriteJSON(msg); err != nil && !p.closed.Load() {
		p.log.Warn("sending signal failed", "type", msg.Type, "error", err)
	}
}

// handleVideoTrack accumulates H264 access units and renders a JPEG
// still every previewDecodeInterval.
func (p *Preview) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case p.trackReady <- struct{}{}:
	default:
	}

	depacketizer := &codecs.H264Packet{}
	var nalBuffer bytes.Buffer
	lastDecode := time.Now()

	for !p.closed.Load() {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			continue
		}
		nalBuffer.Write(nal)

		if time.Since(lastDecode) > previewDecodeInterval {
			p.decodeH264ToJPEG(nalBuffer.Bytes())
			nalBuffer.Reset()
			lastDecode = time.Now()
		}
	}
}

// decodeH264ToJPEG shells out to ffmpeg for one still. Too-small
// buffers and decode failures are skipped; the previous frame stands.
func (p *Preview) decodeH264ToJPEG(h264Data []byte) {
	if len(h264Data) < 100 {
		return
	}

	tmpH264 := filepath.Join(os.TempDir(), "fathom_preview.h264")
	tmpJPEG := filepath.Join(os.TempDir(), "fathom_preview.jpg")

	if err := os.WriteFile(tmpH264, h264Data, 0644); err != nil {
		return
	}

	cmd := exec.Command("ffmpeg", "-y", "-i", tmpH264, "-vframes", "1", "-f", "image2", tmpJPEG)
	if err := cmd.Run(); err != nil {
		return
	}

	jpegData, err := os.ReadFile(tmpJPEG)
	if err != nil || len(jpegData) < 1000 {
		return
	}

	p.frameMu.Lock()
	p.latestFrame = jpegData
	p.frameMu.Unlock()
}

// LatestFrame returns a copy of the most recent JPEG still.
func (p *Preview) LatestFrame() ([]byte, error) {
	p.frameMu.RLock()
	defer p.frameMu.RUnlock()

	if p.latestFrame == nil {
		return nil, fmt.Errorf("no preview frame available yet")
	}
	frame := make([]byte, len(p.latestFrame))
	copy(frame, p.latestFrame)
	return frame, nil
}

// Close tears down the peer connection and signalling channel.
func (p *Preview) Close() {
	p.closed.Store(true)
	if p.pc != nil {
		p.pc.Close()
	}
	if p.ws != nil {
		p.ws.Close()
	}
}
