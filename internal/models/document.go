package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HandleKind selects which resource table a collaboration handle points at.
type HandleKind string

const (
	HandleWorkspace HandleKind = "workspace"
	HandleFolder    HandleKind = "folder"
	HandleFile      HandleKind = "file"
)

// Handle identifies the document being collaboratively edited.
type Handle struct {
	Kind HandleKind
	ID   string
}

func NewHandle(kind HandleKind, id string) (Handle, error) {
	switch kind {
	case HandleWorkspace, HandleFolder, HandleFile:
	default:
		return Handle{}, fmt.Errorf("models: unknown handle kind %q", kind)
	}
	if _, err := uuid.Parse(id); err != nil {
		return Handle{}, fmt.Errorf("models: invalid handle id %q: %w", id, err)
	}
	return Handle{Kind: kind, ID: id}, nil
}

func (h Handle) String() string {
	return string(h.Kind) + "/" + h.ID
}

// Workspace is the top-level container row.
type Workspace struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title     string    `json:"title" gorm:"type:text;not null"`
	IconID    string    `json:"icon_id" gorm:"type:text"`
	Data      string    `json:"data" gorm:"type:text"`
	InTrash   *string   `json:"in_trash,omitempty" gorm:"type:text"`
	BannerURL *string   `json:"banner_url,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// Folder groups files inside a workspace.
type Folder struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title       string    `json:"title" gorm:"type:text;not null"`
	IconID      string    `json:"icon_id" gorm:"type:text"`
	Data        string    `json:"data" gorm:"type:text"`
	InTrash     *string   `json:"in_trash,omitempty" gorm:"type:text"`
	BannerURL   *string   `json:"banner_url,omitempty" gorm:"type:text"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:uuid;not null;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// File is a leaf document inside a folder.
type File struct {
	ID          string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title       string    `json:"title" gorm:"type:text;not null"`
	IconID      string    `json:"icon_id" gorm:"type:text"`
	Data        string    `json:"data" gorm:"type:text"`
	InTrash     *string   `json:"in_trash,omitempty" gorm:"type:text"`
	BannerURL   *string   `json:"banner_url,omitempty" gorm:"type:text"`
	WorkspaceID string    `json:"workspace_id" gorm:"type:uuid;not null;index"`
	FolderID    string    `json:"folder_id" gorm:"type:uuid;not null;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

func (f *Folder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

func (f *File) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Document is the kind-independent view of one row, as the collaboration
// layer and the HTTP handlers consume it.
type Document struct {
	Kind        HandleKind `json:"kind"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	IconID      string     `json:"icon_id"`
	Data        string     `json:"data"`
	InTrash     *string    `json:"in_trash,omitempty"`
	BannerURL   *string    `json:"banner_url,omitempty"`
	WorkspaceID string     `json:"workspace_id,omitempty"`
	FolderID    string     `json:"folder_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (d *Document) Handle() Handle {
	return Handle{Kind: d.Kind, ID: d.ID}
}

// DocumentUpdate carries a partial field update. Nil pointers are left
// untouched; a pointer to the empty string clears the column.
type DocumentUpdate struct {
	Title     *string `json:"title,omitempty"`
	IconID    *string `json:"icon_id,omitempty"`
	Data      *string `json:"data,omitempty"`
	InTrash   *string `json:"in_trash,omitempty"`
	BannerURL *string `json:"banner_url,omitempty"`
}
