// fathom-sim runs a scripted measurement against the built-in
// simulator: surface acquisition, two points placed three and four
// meters apart on perpendicular axes, a confirmed five meter distance,
// and a clean teardown. A smoke run and a worked example of the engine
// API in one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tanagerlabs/go-fathom/internal/log"
	"github.com/tanagerlabs/go-fathom/pkg/geometry"
	"github.com/tanagerlabs/go-fathom/pkg/measure"
	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

func main() {
	logLevel := flag.String("log", "warn", "log level: debug, info, warn, error")
	flag.Parse()
	log.Init(*logLevel)

	sim := platform.NewSimulator(platform.DefaultSimConfig())
	engine, err := measure.NewEngine(sim, measure.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine init failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	var confirmed float64
	engine.OnDistanceMeasured(func(m float64) { confirmed = m })

	fmt.Println("📏 fathom-sim: scripted 3-4-5 measurement")

	step("starting session", func() error { return engine.StartSession(context.Background()) })
	report(engine)

	waitFor("surface acquisition", func() bool {
		return engine.Snapshot().Phase == measure.PhaseReadyFirst
	})
	report(engine)

	place(engine, sim, geometry.Vec3{}, 1)
	report(engine)

	place(engine, sim, geometry.Vec3{X: 3, Y: 0, Z: 4}, 2)
	report(engine)

	step("confirming", engine.ConfirmMeasurement)
	report(engine)
	fmt.Printf("✅ confirmed distance: %.1f m\n", confirmed)

	step("cancelling session", engine.Cancel)
	report(engine)

	if sim.SessionEnded() && sim.LiveResources() == 0 && sim.ContextReleased() {
		fmt.Println("👋 teardown clean: session ended, resources disposed, context released")
		return
	}
	fmt.Fprintln(os.Stderr, "teardown left device state behind")
	os.Exit(1)
}

func step(what string, fn func() error) {
	fmt.Printf("→ %s\n", what)
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
		os.Exit(1)
	}
}

func waitFor(what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "timed out waiting for %s\n", what)
	os.Exit(1)
}

// place steers the scripted surface to pos and fires selects until the
// point lands. Retrying rides out the entry gate after session start
// and after control activations.
func place(engine *measure.Engine, sim *platform.Simulator, pos geometry.Vec3, n int) {
	fmt.Printf("→ placing point %d at (%.0f, %.0f, %.0f)\n", n, pos.X, pos.Y, pos.Z)
	sim.MoveHit(pos)
	waitFor("reticle on target", func() bool {
		s := engine.Snapshot()
		return s.ReticleVisible && s.ReticlePos != nil &&
			s.ReticlePos[0] == pos.X && s.ReticlePos[1] == pos.Y && s.ReticlePos[2] == pos.Z
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sim.TriggerSelect()
		if len(engine.Snapshot().Points) == n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "point %d never placed\n", n)
	os.Exit(1)
}

func report(engine *measure.Engine) {
	snap := engine.Snapshot()
	line := fmt.Sprintf("   phase=%-12s reticle=%-5v points=%d", snap.Phase, snap.ReticleVisible, len(snap.Points))
	if snap.DistanceMeters != nil {
		line += fmt.Sprintf(" distance=%.1fm", *snap.DistanceMeters)
	}
	if snap.Confirmed {
		line += " confirmed"
	}
	fmt.Println(line)
}
