package platform

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestParseCause(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Cause
	}{
		{"permission denied", "permission-denied", CausePermissionDenied},
		{"unsupported", "unsupported", CauseUnsupported},
		{"security restricted", "security-restricted", CauseSecurityRestricted},
		{"conflicting session", "conflicting-session", CauseConflictingSession},
		{"device busy", "device-busy", CauseDeviceBusy},
		{"unknown tag", "flux-capacitor", CauseUnknown},
		{"empty", "", CauseUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCause(tt.in); got != tt.want {
				t.Errorf("ParseCause(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRemediationCoversEveryCause(t *testing.T) {
	causes := []Cause{
		CausePermissionDenied,
		CauseUnsupported,
		CauseSecurityRestricted,
		CauseConflictingSession,
		CauseDeviceBusy,
		CauseUnknown,
	}

	for _, cause := range causes {
		t.Run(string(cause), func(t *testing.T) {
			err := NewNegotiationError(cause, "")
			if err.Remediation() == "" {
				t.Errorf("cause %q has no remediation text", cause)
			}
		})
	}
}

func TestRemediationFallsBackForUnknown(t *testing.T) {
	err := &NegotiationError{Cause: Cause("made-up")}
	if got, want := err.Remediation(), remediations[CauseUnknown]; got != want {
		t.Errorf("Remediation() = %q, want fallback %q", got, want)
	}
}

func TestNegotiationErrorMessage(t *testing.T) {
	err := NewNegotiationError(CauseDeviceBusy, "tracker claimed by another process")
	msg := err.Error()
	if !strings.Contains(msg, string(CauseDeviceBusy)) {
		t.Errorf("Error() = %q, want cause tag included", msg)
	}
	if !strings.Contains(msg, "tracker claimed by another process") {
		t.Errorf("Error() = %q, want detail included", msg)
	}

	bare := NewNegotiationError(CausePermissionDenied, "")
	if strings.HasSuffix(bare.Error(), ": ") {
		t.Errorf("Error() without detail has trailing separator: %q", bare.Error())
	}
}

func TestAsNegotiation(t *testing.T) {
	direct := NewNegotiationError(CauseUnsupported, "")
	if ne, ok := AsNegotiation(direct); !ok || ne.Cause != CauseUnsupported {
		t.Errorf("AsNegotiation(direct) = %v, %v, want unwrapped unsupported", ne, ok)
	}

	wrapped := fmt.Errorf("starting session: %w", direct)
	if ne, ok := AsNegotiation(wrapped); !ok || ne.Cause != CauseUnsupported {
		t.Errorf("AsNegotiation(wrapped) = %v, %v, want unwrapped unsupported", ne, ok)
	}

	if _, ok := AsNegotiation(errors.New("plain")); ok {
		t.Error("AsNegotiation(plain error) = true, want false")
	}
	if _, ok := AsNegotiation(nil); ok {
		t.Error("AsNegotiation(nil) = true, want false")
	}
}
