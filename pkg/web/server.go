// Package web serves the measurement UI surface: a JSON API over the
// engine and the calibration store, a throttled projection stream on
// /ws/state, and a binary viewport preview on /ws/preview.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/tanagerlabs/go-fathom/internal/log"
	"github.com/tanagerlabs/go-fathom/pkg/calibration"
	"github.com/tanagerlabs/go-fathom/pkg/hub"
	"github.com/tanagerlabs/go-fathom/pkg/measure"
)

// Config holds the server settings.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// StateInterval is the minimum spacing between projection
	// broadcasts. The engine signals changes at frame cadence; the UI
	// scheduler must not run that fast, so changes inside the window
	// coalesce into the next tick's snapshot.
	StateInterval time.Duration

	// PreviewInterval is the spacing between viewport frame broadcasts.
	PreviewInterval time.Duration
}

// DefaultConfig returns the standard server settings.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:            addr,
		StateInterval:   100 * time.Millisecond,
		PreviewInterval: 100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("web: listen address required")
	}
	if c.StateInterval <= 0 {
		return errors.New("web: state interval must be positive")
	}
	if c.PreviewInterval <= 0 {
		return errors.New("web: preview interval must be positive")
	}
	return nil
}

// PreviewSource supplies the latest viewport frame as JPEG bytes. The
// bridge preview implements it; the simulator has no viewport.
type PreviewSource interface {
	LatestFrame() ([]byte, error)
}

// Server is the HTTP and websocket front end.
type Server struct {
	cfg Config
	app *fiber.App
	log *slog.Logger

	engine *measure.Engine
	store  calibration.Store

	stateHub   *hub.Hub
	previewHub *hub.Hub

	mu           sync.RWMutex
	lastMeasured float64 // meters; zero until the first confirmed measurement
	preview      PreviewSource

	done     chan struct{}
	stopOnce sync.Once
}

// New builds the server and mounts all routes.
func New(engine *measure.Engine, store calibration.Store, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		log:        log.With("component", "web"),
		engine:     engine,
		store:      store,
		stateHub:   hub.New("state"),
		previewHub: hub.New("preview"),
		done:       make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "fathom",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/capability", s.handleCapability)

	session := api.Group("/session")
	session.Post("/start", s.handleSessionStart)
	session.Get("/state", s.handleSessionState)
	session.Post("/place", s.handlePlace)
	session.Post("/confirm", s.handleConfirm)
	session.Post("/undo", s.handleUndo)
	session.Post("/redo", s.handleRedo)
	session.Post("/cancel", s.handleCancel)

	api.Get("/calibration", s.handleCalibrationLatest)
	api.Get("/calibration/records", s.handleCalibrationList)
	api.Post("/calibration/reference", s.handleCalibrateReference)
	api.Post("/calibration/manual", s.handleCalibrateManual)
	api.Post("/calibration/focal", s.handleCalibrateFocal)

	api.Post("/measure/convert", s.handleConvert)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/state", websocket.New(s.handleStateWS))
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))

	s.app = app

	// Confirmed distances become the default subject distance for
	// reference-object calibration.
	engine.OnDistanceMeasured(s.recordMeasured)

	return s, nil
}

// SetPreviewSource wires a viewport preview into /ws/preview. Optional;
// without a source the preview stream stays silent.
func (s *Server) SetPreviewSource(src PreviewSource) {
	s.mu.Lock()
	s.preview = src
	s.mu.Unlock()
}

// Start runs the hubs, the broadcast loops, and the listener. Blocks
// until Shutdown.
func (s *Server) Start() error {
	go s.stateHub.Run()
	go s.previewHub.Run()
	go s.stateLoop()
	go s.previewLoop()

	s.log.Info("listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown stops the listener and disconnects every websocket client.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.done) })
	s.stateHub.Stop()
	s.previewHub.Stop()
	return s.app.Shutdown()
}

func (s *Server) recordMeasured(meters float64) {
	s.mu.Lock()
	s.lastMeasured = meters
	s.mu.Unlock()
}

// lastMeasuredMeters returns the most recent confirmed distance, zero
// when nothing has been measured yet.
func (s *Server) lastMeasuredMeters() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMeasured
}

// stateLoop forwards engine changes to the state hub, at most one
// broadcast per StateInterval.
func (s *Server) stateLoop() {
	ticker := time.NewTicker(s.cfg.StateInterval)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-s.engine.Changed():
			dirty = true

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if err := s.stateHub.BroadcastJSON(s.engine.Snapshot()); err != nil {
				s.log.Warn("state broadcast failed", "error", err)
			}

		case <-s.done:
			return
		}
	}
}

// previewLoop polls the preview source while viewers are attached.
func (s *Server) previewLoop() {
	ticker := time.NewTicker(s.cfg.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.previewHub.ClientCount() == 0 {
				continue
			}
			s.mu.RLock()
			src := s.preview
			s.mu.RUnlock()
			if src == nil {
				continue
			}
			frame, err := src.LatestFrame()
			if err != nil || len(frame) == 0 {
				continue
			}
			s.previewHub.BroadcastBinary(frame)

		case <-s.done:
			return
		}
	}
}

// handleStateWS streams projection snapshots. The current snapshot is
// delivered immediately on attach so the UI never renders blind.
func (s *Server) handleStateWS(c *websocket.Conn) {
	snapshot, err := json.Marshal(s.engine.Snapshot())
	if err != nil {
		s.log.Error("snapshot marshal failed", "error", err)
		c.Close()
		return
	}
	hub.Serve(s.stateHub, c, hub.Message{Data: snapshot})
}

// handlePreviewWS streams binary viewport frames.
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	hub.Serve(s.previewHub, c)
}
