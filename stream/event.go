// Package stream provides a real-time event broker for controller events.
// It bridges the ext.Extension system to connected clients via topic-based
// pub/sub.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventType identifies the kind of controller event.
type EventType string

const (
	// Tick events.
	EventTickCompleted EventType = "tick.completed"
	EventModeChanged   EventType = "tick.mode_changed"
	EventTargetChanged EventType = "tick.target_changed"

	// Node events.
	EventPlanChanged   EventType = "node.plan_changed"
	EventNodeCancelled EventType = "node.cancelled"

	// Dispatch events.
	EventDispatchLaunched EventType = "dispatch.launched"
	EventDispatchRejected EventType = "dispatch.rejected"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the controller event.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the entity topic this event was published on, if any.
	Topic string `json:"topic,omitempty" msgpack:"topic,omitempty"`

	// Data is the event-specific payload.
	Data any `json:"data" msgpack:"data"`
}

// TickEventData is the payload for tick events.
type TickEventData struct {
	Seq           uint64  `json:"seq" msgpack:"seq"`
	Target        string  `json:"target" msgpack:"target"`
	Mode          string  `json:"mode" msgpack:"mode"`
	PlanKey       string  `json:"plan_key" msgpack:"plan_key"`
	YieldRatio    float64 `json:"yield_ratio" msgpack:"yield_ratio"`
	SecurityDelta float64 `json:"security_delta" msgpack:"security_delta"`
	Launches      int     `json:"launches" msgpack:"launches"`
	Cancels       int     `json:"cancels" msgpack:"cancels"`
	Rejections    int     `json:"rejections" msgpack:"rejections"`
	ElapsedMs     int64   `json:"elapsed_ms" msgpack:"elapsed_ms"`
}

// ChangeEventData is the payload for mode and target changes.
type ChangeEventData struct {
	From string `json:"from" msgpack:"from"`
	To   string `json:"to" msgpack:"to"`
}

// NodeEventData is the payload for node events.
type NodeEventData struct {
	Node     string   `json:"node" msgpack:"node"`
	From     string   `json:"from,omitempty" msgpack:"from,omitempty"`
	To       string   `json:"to,omitempty" msgpack:"to,omitempty"`
	Kinds    []string `json:"kinds,omitempty" msgpack:"kinds,omitempty"`
	Failures int      `json:"failures,omitempty" msgpack:"failures,omitempty"`
}

// DispatchEventData is the payload for dispatch events.
type DispatchEventData struct {
	Node    string `json:"node" msgpack:"node"`
	Handle  string `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Target  string `json:"target" msgpack:"target"`
	Kind    string `json:"kind" msgpack:"kind"`
	DelayMs int64  `json:"delay_ms" msgpack:"delay_ms"`
	Mode    string `json:"mode" msgpack:"mode"`
	PlanKey string `json:"plan_key" msgpack:"plan_key"`
	Threads int    `json:"threads" msgpack:"threads"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// ──────────────────────────────────────────────────
// Encoding
// ──────────────────────────────────────────────────

// Format selects the wire encoding of events.
type Format string

// Supported formats.
const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat converts a format name into a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	}
	return "", fmt.Errorf("stream: unknown format %q", s)
}

// Binary reports whether the format produces binary frames.
func (f Format) Binary() bool { return f == FormatMsgpack }

// Encode serializes an event in the given format.
func Encode(evt *Event, f Format) ([]byte, error) {
	switch f {
	case FormatMsgpack:
		return msgpack.Marshal(evt)
	case FormatJSON, "":
		return json.Marshal(evt)
	}
	return nil, fmt.Errorf("stream: unknown format %q", f)
}
