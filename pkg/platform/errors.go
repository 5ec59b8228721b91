package platform

import (
	"errors"
	"fmt"
)

// Sentinel errors for the platform package.
var (
	// ErrSpaceUnsupported indicates the requested reference space is not
	// available on this device. Callers fall back to the next candidate.
	ErrSpaceUnsupported = errors.New("platform: reference space unsupported")

	// ErrNoReferenceSpace indicates every candidate reference space was
	// rejected. Fatal for the session; the caller may retry the whole
	// session.
	ErrNoReferenceSpace = errors.New("platform: no acceptable reference space")

	// ErrSessionEnded indicates an operation was attempted on a session
	// that has already ended.
	ErrSessionEnded = errors.New("platform: session already ended")

	// ErrUnknownResource indicates a scene operation referenced a resource
	// that does not exist (or was already removed).
	ErrUnknownResource = errors.New("platform: unknown scene resource")
)

// Cause tags why session negotiation failed. Each cause maps to a
// specific remediation message; none are retried automatically.
type Cause string

const (
	CausePermissionDenied   Cause = "permission-denied"
	CauseUnsupported        Cause = "unsupported"
	CauseSecurityRestricted Cause = "security-restricted"
	CauseConflictingSession Cause = "conflicting-session"
	CauseDeviceBusy         Cause = "device-busy"
	CauseUnknown            Cause = "unknown"
)

// remediations maps each negotiation cause to the actionable next step
// shown to the user. Never a bare technical string.
var remediations = map[Cause]string{
	CausePermissionDenied:   "Grant camera permission in the device settings, then try again.",
	CauseUnsupported:        "This device cannot run spatial tracking. Enter the distance manually instead.",
	CauseSecurityRestricted: "Tracking is blocked in this context. Reopen the app over a secure connection and retry.",
	CauseConflictingSession: "Another tracking session is already running. Close it, then try again.",
	CauseDeviceBusy:         "The tracking hardware is busy. Wait a moment, then try again.",
	CauseUnknown:            "The tracking session could not start. Restart the app and try again.",
}

// ParseCause normalizes a wire-level cause string, mapping anything
// unrecognized to CauseUnknown.
func ParseCause(s string) Cause {
	c := Cause(s)
	if _, ok := remediations[c]; ok {
		return c
	}
	return CauseUnknown
}

// NegotiationError reports a failed session request with its cause tag.
type NegotiationError struct {
	// Cause tags the failure for targeted remediation.
	Cause Cause

	// Detail is the platform's own description, if any.
	Detail string
}

// Error implements the error interface.
func (e *NegotiationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("platform: session request failed (%s): %s", e.Cause, e.Detail)
	}
	return fmt.Sprintf("platform: session request failed (%s)", e.Cause)
}

// Remediation returns the user-facing next step for this failure.
func (e *NegotiationError) Remediation() string {
	if msg, ok := remediations[e.Cause]; ok {
		return msg
	}
	return remediations[CauseUnknown]
}

// NewNegotiationError creates a NegotiationError with the given cause.
func NewNegotiationError(cause Cause, detail string) *NegotiationError {
	return &NegotiationError{Cause: ParseCause(string(cause)), Detail: detail}
}

// AsNegotiation unwraps err into a *NegotiationError if it is one.
func AsNegotiation(err error) (*NegotiationError, bool) {
	var ne *NegotiationError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
