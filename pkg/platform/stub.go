package platform

import (
	"context"
	"sync"
)

// Stub is the backend for hosts with no tracking hardware at all. It
// reports an empty capability; callers are expected to route around it
// before ever requesting a session.
type Stub struct {
	mu       sync.Mutex
	requests int
}

var _ Device = (*Stub)(nil)

// NewStub creates a stub device.
func NewStub() *Stub {
	return &Stub{}
}

// Probe reports that nothing is supported.
func (s *Stub) Probe(ctx context.Context) (Capability, error) {
	return Capability{}, nil
}

// RequestSession always fails. The call is counted so tests can assert
// that capability gating happened before negotiation.
func (s *Stub) RequestSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
	return nil, NewNegotiationError(CauseUnsupported, "host has no tracking runtime")
}

// RequestCount returns how many times RequestSession was called.
func (s *Stub) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}
