package models

import (
	"encoding/json"
	"fmt"
)

// EventType classifies a message on a document channel.
type EventType string

const (
	// EventSetup is the first message a session receives: the current
	// document content plus whether the row was just created.
	EventSetup EventType = "setup"
	// EventDelta carries an incremental content change in the editor's
	// native op format. Broadcast-only, never persisted as-is.
	EventDelta EventType = "delta"
	// EventCursor carries a peer's selection range. Broadcast-only.
	EventCursor EventType = "cursor"
	// EventPresence carries join/leave notifications and full presence
	// syncs for a channel.
	EventPresence EventType = "presence"
	// EventSaveStatus surfaces the snapshot saver's state machine so
	// clients can render a save label.
	EventSaveStatus EventType = "save_status"
	// EventError reports a terminal per-connection failure.
	EventError EventType = "error"
)

// Envelope is the wire frame for every channel message.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SaveStatus is the snapshot saver's user-visible state.
type SaveStatus string

const (
	SaveIdle   SaveStatus = "idle"
	SaveSaving SaveStatus = "saving"
	SaveSaved  SaveStatus = "saved"
	SaveError  SaveStatus = "error"
)

// SetupEvent initializes a freshly subscribed session.
type SetupEvent struct {
	FileID     string          `json:"fileId"`
	Content    json.RawMessage `json:"content"`
	Created    bool            `json:"created"`
	SaveStatus SaveStatus      `json:"saveStatus"`
}

// DeltaEvent is the "content delta" broadcast payload.
type DeltaEvent struct {
	Delta  json.RawMessage `json:"delta"`
	FileID string          `json:"fileId"`
}

// CursorRange is a selection start/length pair in editor index space.
type CursorRange struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// CursorEvent is the "cursor move" broadcast payload.
type CursorEvent struct {
	Range    CursorRange `json:"range"`
	FileID   string      `json:"fileId"`
	CursorID string      `json:"cursorId"`
}

// Presence event kinds.
const (
	PresenceSync  = "sync"
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// PresenceEvent carries presence changes. Sync events replace the
// client's collaborator list wholesale, which keeps repeated syncs
// idempotent.
type PresenceEvent struct {
	Kind  string     `json:"kind"`
	Peer  *Presence  `json:"peer,omitempty"`
	Peers []Presence `json:"peers,omitempty"`
}

// SaveStatusEvent mirrors the saver state machine to the channel.
type SaveStatusEvent struct {
	FileID string     `json:"fileId"`
	Status SaveStatus `json:"status"`
}

// ErrorEvent reports a failure to a single peer.
type ErrorEvent struct {
	Message string `json:"message"`
}

// MarshalEvent wraps a payload in an Envelope and serializes it.
func MarshalEvent(t EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("models: marshal %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}
