// fathomd runs the spatial measurement service: a tracking engine over
// a device bridge or the built-in simulator, a calibration store, and
// the web dashboard that drives them.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tanagerlabs/go-fathom/internal/config"
	"github.com/tanagerlabs/go-fathom/internal/log"
	"github.com/tanagerlabs/go-fathom/pkg/calibration"
	"github.com/tanagerlabs/go-fathom/pkg/measure"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
	"github.com/tanagerlabs/go-fathom/pkg/platform/bridge"
	"github.com/tanagerlabs/go-fathom/pkg/web"
)

type options struct {
	addr       string
	device     string
	store      string
	logLevel   string
	sim        bool
	noTracking bool
	preview    bool
}

// parseFlags reads the command line with environment fallbacks
// (FATHOM_ADDR, FATHOM_DEVICE, FATHOM_STORE, FATHOM_LOG).
func parseFlags() options {
	var opts options
	flag.StringVar(&opts.addr, "addr", config.ListenAddr(config.DefaultListenAddr), "dashboard listen address")
	flag.StringVar(&opts.device, "device", config.DeviceAddr(""), "tracking daemon address (host:port)")
	flag.StringVar(&opts.store, "store", config.StorePath(config.DefaultStorePath()), "calibration store path")
	flag.StringVar(&opts.logLevel, "log", config.LogLevel("info"), "log level: debug, info, warn, error")
	flag.BoolVar(&opts.sim, "sim", false, "use the built-in simulator instead of a device")
	flag.BoolVar(&opts.noTracking, "no-tracking", false, "use the no-tracking stub (manual calibration only)")
	flag.BoolVar(&opts.preview, "preview", true, "mirror the device viewport into the dashboard")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()
	log.Init(opts.logLevel)

	device, preview, err := selectDevice(opts)
	if err != nil {
		log.Error("device selection failed", "error", err)
		os.Exit(1)
	}

	engine, err := measure.NewEngine(device, measure.DefaultConfig())
	if err != nil {
		log.Error("engine init failed", "error", err)
		os.Exit(1)
	}

	store, err := calibration.NewJSONStore(opts.store)
	if err != nil {
		log.Error("calibration store init failed", "error", err, "path", opts.store)
		os.Exit(1)
	}
	log.Info("calibration store ready", "path", store.Path(), "records", store.Count())

	server, err := web.New(engine, store, web.DefaultConfig(opts.addr))
	if err != nil {
		log.Error("server init failed", "error", err)
		os.Exit(1)
	}

	if preview != nil {
		server.SetPreviewSource(preview)
		defer preview.Close()
		go func() {
			if err := preview.Connect(); err != nil {
				log.Warn("viewport preview unavailable", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serverErr error
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case serverErr = <-errCh:
		if serverErr != nil {
			log.Error("server failed", "error", serverErr)
		}
	}

	// The engine's full teardown (session end, listener removal,
	// resource disposal, context release) must finish before the
	// listener goes away.
	if err := engine.Close(); err != nil {
		log.Warn("engine close failed", "error", err)
	}
	if err := server.Shutdown(); err != nil {
		log.Warn("server shutdown failed", "error", err)
	}

	if serverErr != nil {
		os.Exit(1)
	}
	log.Info("stopped")
}

// selectDevice picks the platform backend exactly once, at startup: a
// live device bridge, the simulator, or the no-tracking stub. Without
// a device address the simulator is the default, so the service runs
// out of the box.
func selectDevice(opts options) (platform.Device, *bridge.Preview, error) {
	switch {
	case opts.noTracking:
		log.Info("backend: no-tracking stub")
		return platform.NewStub(), nil, nil

	case opts.sim || opts.device == "":
		log.Info("backend: simulator")
		return platform.NewSimulator(platform.DefaultSimConfig()), nil, nil

	default:
		log.Info("backend: device bridge", "addr", opts.device)
		dev, err := bridge.New(bridge.DefaultConfig(opts.device))
		if err != nil {
			return nil, nil, err
		}
		var preview *bridge.Preview
		if opts.preview {
			preview = bridge.NewPreview(opts.device)
		}
		return dev, preview, nil
	}
}
