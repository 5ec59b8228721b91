package measure

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tanagerlabs/go-fathom/pkg/platform"
)

func TestControlsPerPhase(t *testing.T) {
	tests := []struct {
		name      string
		phase     Phase
		confirmed bool
		want      Controls
	}{
		{"idle", PhaseIdle, false, Controls{}},
		{"scanning", PhaseScanning, false, Controls{}},
		{"ready-first", PhaseReadyFirst, false, Controls{Place: true}},
		{"ready-second", PhaseReadySecond, false, Controls{Place: true, Undo: true}},
		{"complete", PhaseComplete, false, Controls{Confirm: true, Redo: true}},
		{"complete confirmed", PhaseComplete, true, Controls{Redo: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := controlsFor(tt.phase, tt.confirmed)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("controls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestInstructionPerPhase(t *testing.T) {
	tests := []struct {
		phase     Phase
		confirmed bool
		want      string
	}{
		{PhaseIdle, false, instructionIdle},
		{PhaseScanning, false, instructionScanning},
		{PhaseReadyFirst, false, instructionReadyFirst},
		{PhaseReadySecond, false, instructionReadySecond},
		{PhaseComplete, false, instructionComplete},
		{PhaseComplete, true, instructionConfirmed},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			if got := instructionFor(tt.phase, tt.confirmed); got != tt.want {
				t.Errorf("instructionFor(%q, %v) = %q, want %q", tt.phase, tt.confirmed, got, tt.want)
			}
		})
	}
	for _, tt := range tests {
		if tt.want == "" {
			t.Errorf("phase %q has empty instruction text", tt.phase)
		}
	}
}

func TestIdleSnapshot(t *testing.T) {
	engine, err := NewEngine(platform.NewStub(), DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	defer engine.Close()

	want := Projection{
		SessionActive: false,
		Phase:         PhaseIdle,
		Instruction:   instructionIdle,
		Controls:      Controls{},
	}
	if diff := cmp.Diff(want, engine.Snapshot()); diff != "" {
		t.Errorf("idle projection mismatch (-want +got):\n%s", diff)
	}
}
