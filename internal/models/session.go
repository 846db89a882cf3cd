package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session is the metadata for one peer's connection to a document channel.
type Session struct {
	ID           string    `json:"id"`
	FileID       string    `json:"file_id"`
	Peer         Presence  `json:"peer"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewSession allocates session metadata with a KSUID id, which keeps log
// lines sortable by connection time.
func NewSession(fileID string, peer Presence) *Session {
	now := time.Now()
	return &Session{
		ID:           ksuid.New().String(),
		FileID:       fileID,
		Peer:         peer,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}
