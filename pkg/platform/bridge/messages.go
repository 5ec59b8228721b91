// Package bridge drives a physical tracking device over its WebSocket
// control channel. The device side runs the fathom-bridge daemon; this
// package is the app side of that protocol.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// App → Device messages
	TypeSessionRequest MessageType = "session.request" // Negotiate a tracking session
	TypeSpaceRequest   MessageType = "space.request"   // Request a reference space
	TypeSourceRequest  MessageType = "source.request"  // Request a hit-test source
	TypeSourceCancel   MessageType = "source.cancel"   // Cancel the hit-test source
	TypeSceneOp        MessageType = "scene.op"        // Create or remove a scene resource
	TypeReticle        MessageType = "reticle"         // Reticle pose update, no reply
	TypeSessionEnd     MessageType = "session.end"     // End the session, no reply
	TypeSceneRelease   MessageType = "scene.release"   // Release the graphics context, no reply

	// Device → App messages
	TypeSessionResult MessageType = "session.result" // Session negotiation outcome
	TypeSpaceResult   MessageType = "space.result"   // Reference space outcome
	TypeSourceResult  MessageType = "source.result"  // Hit-test source outcome
	TypeSceneResult   MessageType = "scene.result"   // Scene op outcome
	TypeFrame         MessageType = "frame"          // Tracking frame with hit results
	TypeSelect        MessageType = "select"         // User performed a spatial tap
	TypeEnded         MessageType = "ended"          // Device ended the session
)

// Message is the base wrapper for all WebSocket messages. ID correlates
// a request with its result; unsolicited messages carry no ID.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, id string, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// App → Device Message Types
// =============================================================================

// SessionRequestData lists the features the app needs.
type SessionRequestData struct {
	Required []string `json:"required"`
	Optional []string `json:"optional,omitempty"`
}

// SpaceRequestData names the reference space to anchor in.
type SpaceRequestData struct {
	Kind string `json:"kind"` // "local-floor", "viewer"
}

// SceneOpData describes a scene mutation. Op selects which fields apply.
type SceneOpData struct {
	Op   string    `json:"op"`             // "marker", "segment", "remove"
	Pose []float64 `json:"pose,omitempty"` // flattened 4x4, row-major (marker)
	From []float64 `json:"from,omitempty"` // [x y z] (segment)
	To   []float64 `json:"to,omitempty"`   // [x y z] (segment)
	ID   string    `json:"id,omitempty"`   // resource to remove
}

// ReticleData positions the aiming reticle. Sent every frame, never
// acknowledged.
type ReticleData struct {
	Pose    []float64 `json:"pose"` // flattened 4x4, row-major
	Visible bool      `json:"visible"`
}

// =============================================================================
// Device → App Message Types
// =============================================================================

// SessionResultData reports the negotiation outcome. Cause uses the
// platform cause tags when OK is false.
type SessionResultData struct {
	OK     bool   `json:"ok"`
	Cause  string `json:"cause,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// SpaceResultData reports whether the reference space was established.
// Unsupported distinguishes "this device lacks the space" from other
// failures so the app can fall back to the next preference.
type SpaceResultData struct {
	OK          bool   `json:"ok"`
	Unsupported bool   `json:"unsupported,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// SourceResultData reports whether hit testing is live.
type SourceResultData struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// SceneResultData reports a scene mutation outcome. ID carries the
// device-assigned resource handle for creations.
type SceneResultData struct {
	OK     bool   `json:"ok"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// FrameData is one tracking frame. Each hit is a flattened 4x4 pose,
// row-major, closest surface first.
type FrameData struct {
	Seq  uint64      `json:"seq"`
	TS   int64       `json:"ts"` // Unix milliseconds
	Hits [][]float64 `json:"hits,omitempty"`
}

// EndedData explains a device-initiated session end.
type EndedData struct {
	Reason string `json:"reason,omitempty"`
}
