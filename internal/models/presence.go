package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPresence indicates a presence payload that failed validation.
var ErrInvalidPresence = errors.New("models: invalid presence payload")

// Presence is the ephemeral identity a peer announces on a channel.
// It lives only as long as the channel subscription and is never persisted
// to the document store.
type Presence struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl"`
}

// DecodePresence deserializes and validates a presence payload. Peers
// publish these themselves, so unknown fields and wrong primitive types
// are rejected here instead of being duck-typed downstream.
func DecodePresence(raw []byte) (Presence, error) {
	var p Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return Presence{}, fmt.Errorf("%w: %v", ErrInvalidPresence, err)
	}
	if err := p.Validate(); err != nil {
		return Presence{}, err
	}
	return p, nil
}

// Validate checks the required fields.
func (p Presence) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty peer id", ErrInvalidPresence)
	}
	if p.Email == "" {
		return fmt.Errorf("%w: empty email", ErrInvalidPresence)
	}
	return nil
}
