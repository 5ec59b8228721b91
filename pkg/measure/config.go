package measure

import (
	"fmt"
	"time"

	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

const (
	// DefaultGateWindow is how long placement input stays ignored after
	// a UI control activation.
	DefaultGateWindow = 300 * time.Millisecond

	// DefaultEntryDelay is the pause between a start request and the
	// platform negotiation, letting the prior UI surface unmount before
	// the overlay attaches.
	DefaultEntryDelay = 50 * time.Millisecond
)

// Config holds the tunable parameters of the measurement engine.
type Config struct {
	// GateWindow is the placement-gate cooldown.
	GateWindow time.Duration

	// EntryDelay is the entry-transition buffer before negotiation.
	EntryDelay time.Duration

	// SpaceOrder lists reference spaces in preference order. The first
	// one the device accepts wins; candidates are skipped only when the
	// device reports that specific space as unsupported.
	SpaceOrder []platform.SpaceKind
}

// DefaultConfig returns the recommended engine configuration.
func DefaultConfig() Config {
	return Config{
		GateWindow: DefaultGateWindow,
		EntryDelay: DefaultEntryDelay,
		SpaceOrder: []platform.SpaceKind{platform.SpaceLocalFloor, platform.SpaceViewer},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.GateWindow <= 0 {
		return fmt.Errorf("measure: gate window must be positive, got %v", c.GateWindow)
	}
	if c.EntryDelay < 0 {
		return fmt.Errorf("measure: entry delay cannot be negative, got %v", c.EntryDelay)
	}
	if len(c.SpaceOrder) == 0 {
		return fmt.Errorf("measure: at least one reference space is required")
	}
	return nil
}
