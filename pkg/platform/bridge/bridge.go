package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanagerlabs/go-fathom/internal/httpc"
	"github.com/tanagerlabs/go-fathom/internal/log"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

// Config holds bridge connection settings.
type Config struct {
	// Addr is the host:port of the device daemon.
	Addr string

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration

	// RequestTimeout bounds each control request awaiting its result.
	RequestTimeout time.Duration

	// FrameBuffer is the frame channel depth. Frames past it are
	// dropped rather than queued behind a slow consumer.
	FrameBuffer int
}

// DefaultConfig returns sensible bridge settings for the given daemon
// address.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:           addr,
		DialTimeout:    10 * time.Second,
		RequestTimeout: 5 * time.Second,
		FrameBuffer:    8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("bridge: device address is required")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("bridge: dial timeout must be positive, got %v", c.DialTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("bridge: request timeout must be positive, got %v", c.RequestTimeout)
	}
	return nil
}

// Device is a tracking device reached over the bridge daemon's
// WebSocket control channel.
type Device struct {
	cfg Config
	log *slog.Logger
}

var _ platform.Device = (*Device)(nil)

// New creates a bridge device for the daemon at cfg.Addr.
func New(cfg Config) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = 8
	}
	return &Device{
		cfg: cfg,
		log: log.With("component", "bridge", "device", cfg.Addr),
	}, nil
}

// Probe asks the daemon for its capability over plain HTTP. A probe
// failure is reported as an error with an empty capability; it never
// opens a session.
func (d *Device) Probe(ctx context.Context) (platform.Capability, error) {
	url := fmt.Sprintf("http://%s/api/capability", d.cfg.Addr)
	var capability platform.Capability
	if err := httpc.GetJSON(ctx, url, &capability); err != nil {
		return platform.Capability{}, fmt.Errorf("probing device capability: %w", err)
	}
	return capability, nil
}

// RequestSession dials the session channel and negotiates a tracking
// session with the requested features.
func (d *Device) RequestSession(ctx context.Context, cfg platform.SessionConfig) (platform.Session, error) {
	url := fmt.Sprintf("ws://%s/ws/session", d.cfg.Addr)
	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, platform.NewNegotiationError(platform.CauseUnknown,
			fmt.Sprintf("dialing %s: %v", url, err))
	}

	sess := newSession(conn, d.cfg, d.log)
	go sess.readLoop()

	req := SessionRequestData{
		Required: featureNames(cfg.Required),
		Optional: featureNames(cfg.Optional),
	}
	reply, err := sess.request(ctx, TypeSessionRequest, req)
	if err != nil {
		sess.abort()
		return nil, platform.NewNegotiationError(platform.CauseUnknown,
			fmt.Sprintf("session negotiation: %v", err))
	}

	var result SessionResultData
	if err := reply.ParseData(&result); err != nil {
		sess.abort()
		return nil, platform.NewNegotiationError(platform.CauseUnknown,
			fmt.Sprintf("parsing session result: %v", err))
	}
	if !result.OK {
		sess.abort()
		return nil, platform.NewNegotiationError(platform.ParseCause(result.Cause), result.Detail)
	}

	d.log.Info("tracking session negotiated")
	return sess, nil
}

func featureNames(features []platform.Feature) []string {
	if len(features) == 0 {
		return nil
	}
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}
	return names
}
