package collaboration

import (
	"context"

	"collabd/internal/models"
)

// DocumentStore is what the collaboration layer needs from persistence:
// an initial content fetch and the wholesale snapshot write. The full
// repository has a wider surface; only these methods are consumed here.
type DocumentStore interface {
	Get(ctx context.Context, h models.Handle) (*models.Document, error)
	EnsureFile(ctx context.Context, fileID, workspaceID, folderID string) (*models.Document, bool, error)
	SaveSnapshot(ctx context.Context, h models.Handle, data string) error
}

// PresenceRegistry tracks which peers are currently on a channel. Entries
// are ephemeral; implementations expire them when a session stops
// refreshing.
type PresenceRegistry interface {
	Track(ctx context.Context, fileID string, p models.Presence) error
	Untrack(ctx context.Context, fileID, peerID string) error
	State(ctx context.Context, fileID string) ([]models.Presence, error)
}

// AvatarResolver turns a stored avatar object path into a fetchable URL
// for presence payloads.
type AvatarResolver interface {
	ResolveURL(ctx context.Context, objectPath string) (string, error)
}
