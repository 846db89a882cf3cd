package api

import (
	"context"
	"io"

	"collabd/internal/models"
)

// Interfaces declared by this package as the consumer: handlers only name
// the methods they actually call, so the implementations stay swappable
// in tests.

// DocumentRepo is the persistence surface the HTTP handlers use.
type DocumentRepo interface {
	Get(ctx context.Context, h models.Handle) (*models.Document, error)
	CreateWorkspace(ctx context.Context, row *models.Workspace) (*models.Document, error)
	CreateFolder(ctx context.Context, row *models.Folder) (*models.Document, error)
	CreateFile(ctx context.Context, row *models.File) (*models.Document, error)
	ListWorkspaces(ctx context.Context, limit, offset int) ([]*models.Document, error)
	ListFolders(ctx context.Context, workspaceID string) ([]*models.Document, error)
	ListFiles(ctx context.Context, folderID string) ([]*models.Document, error)
	UpdateFields(ctx context.Context, h models.Handle, update *models.DocumentUpdate) error
}

// AssetStore uploads banner objects and resolves their URLs.
type AssetStore interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string) (string, error)
	ResolveURL(ctx context.Context, objectPath string) (string, error)
}
