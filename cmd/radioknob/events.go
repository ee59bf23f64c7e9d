package main

import "time"

// ============================================================================
// Status events and wire types
// ============================================================================
// StatusEvents are emitted by the controller (and the player watcher) into a
// buffered channel; the broadcaster serializes them into websocket envelopes.
// They carry no control intent: the feed is read-only for its consumers.
// ============================================================================

// StatusEvent is the marker interface for everything published on the
// status feed.
type StatusEvent interface {
	// Type is the envelope type discriminator on the wire.
	Type() string
}

// ModeChanged reports a mode transition.
type ModeChanged struct {
	Mode string    `json:"mode"`
	At   time.Time `json:"-"`
}

func (ModeChanged) Type() string { return "mode_changed" }

// VolumeChanged reports the controller's rounded volume after a rotation.
// Encoder turns emit these in bursts at poll cadence; the broadcaster
// coalesces them before fanout.
type VolumeChanged struct {
	Volume int       `json:"volume"`
	At     time.Time `json:"-"`
}

func (VolumeChanged) Type() string { return "volume_changed" }

// TrackChanged reports a track-change command fired by a threshold crossing.
type TrackChanged struct {
	Direction string    `json:"direction"` // "next" or "previous"
	At        time.Time `json:"-"`
}

func (TrackChanged) Type() string { return "track_changed" }

// PlayerStateChanged reports what mpd itself says it is doing. Emitted by
// the player watcher, not the controller.
type PlayerStateChanged struct {
	State  string    `json:"state"` // "play", "pause", "stop"
	Title  string    `json:"title,omitempty"`
	Artist string    `json:"artist,omitempty"`
	Volume int       `json:"volume"`
	At     time.Time `json:"-"`
}

func (PlayerStateChanged) Type() string { return "player_state" }

// eventAt returns the event's own timestamp when it carries one.
func eventAt(ev StatusEvent) time.Time {
	switch e := ev.(type) {
	case ModeChanged:
		return e.At
	case VolumeChanged:
		return e.At
	case TrackChanged:
		return e.At
	case PlayerStateChanged:
		return e.At
	default:
		return time.Time{}
	}
}

// ============================================================================
// IPC wire types
// ============================================================================
// Protocol: line-delimited JSON over a unix socket.
//   - Client sends: {"op": "status" | "rotate" | "press" | "longpress", "delta": N}
//   - Server responds: {"status": "ok", "state": {...}} or
//     {"status": "error", "error": "msg"}
// ============================================================================

// IPCRequest is a single client request line.
type IPCRequest struct {
	Op    string `json:"op"`
	Delta int    `json:"delta,omitempty"` // rotate only
}

// IPCResponse is sent back for every request. State is populated for the
// "status" op and after successful injections.
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // message if status == "error"
	State  *StatusSnapshot `json:"state,omitempty"`
}
