package repository

import (
	"context"
	"errors"
	"fmt"

	"collabd/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound indicates the handle resolved to no row. Callers decide the
// recovery: the websocket path auto-creates missing files but only logs
// missing folders and workspaces.
var ErrNotFound = errors.New("repository: document not found")

// DefaultFileTitle is the title given to files created on demand when a
// collaboration session opens a file id that has no row yet.
const DefaultFileTitle = "Untitled"

// DocumentRepositoryImpl handles all database operations for the three
// document tables using GORM.
type DocumentRepositoryImpl struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *gorm.DB, logger *zap.Logger) *DocumentRepositoryImpl {
	return &DocumentRepositoryImpl{db: db, logger: logger}
}

// Get fetches one row by handle. Exactly one content blob exists per
// handle; calling Get twice with no intervening write yields identical
// content.
func (r *DocumentRepositoryImpl) Get(ctx context.Context, h models.Handle) (*models.Document, error) {
	switch h.Kind {
	case models.HandleWorkspace:
		var row models.Workspace
		if err := r.first(ctx, &row, h); err != nil {
			return nil, err
		}
		return workspaceView(&row), nil
	case models.HandleFolder:
		var row models.Folder
		if err := r.first(ctx, &row, h); err != nil {
			return nil, err
		}
		return folderView(&row), nil
	case models.HandleFile:
		var row models.File
		if err := r.first(ctx, &row, h); err != nil {
			return nil, err
		}
		return fileView(&row), nil
	default:
		return nil, fmt.Errorf("repository: unknown handle kind %q", h.Kind)
	}
}

func (r *DocumentRepositoryImpl) first(ctx context.Context, dest any, h models.Handle) error {
	err := r.db.WithContext(ctx).First(dest, "id = ?", h.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	if err != nil {
		return fmt.Errorf("repository: get %s: %w", h, err)
	}
	return nil
}

// EnsureFile fetches a file row, creating a default "Untitled" row when the
// id is unknown. The created flag tells the caller to redirect the client
// to the new file.
func (r *DocumentRepositoryImpl) EnsureFile(ctx context.Context, fileID, workspaceID, folderID string) (*models.Document, bool, error) {
	handle := models.Handle{Kind: models.HandleFile, ID: fileID}
	doc, err := r.Get(ctx, handle)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	row := models.File{
		ID:          fileID,
		Title:       DefaultFileTitle,
		WorkspaceID: workspaceID,
		FolderID:    folderID,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, false, fmt.Errorf("repository: create default file %s: %w", fileID, err)
	}
	r.logger.Info("created default file for missing handle",
		zap.String("file_id", row.ID),
		zap.String("folder_id", folderID))
	return fileView(&row), true, nil
}

// CreateWorkspace inserts a workspace row. The uuid is generated in the
// BeforeCreate hook when not supplied.
func (r *DocumentRepositoryImpl) CreateWorkspace(ctx context.Context, row *models.Workspace) (*models.Document, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("repository: create workspace: %w", err)
	}
	return workspaceView(row), nil
}

// CreateFolder inserts a folder row.
func (r *DocumentRepositoryImpl) CreateFolder(ctx context.Context, row *models.Folder) (*models.Document, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("repository: create folder: %w", err)
	}
	return folderView(row), nil
}

// CreateFile inserts a file row.
func (r *DocumentRepositoryImpl) CreateFile(ctx context.Context, row *models.File) (*models.Document, error) {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("repository: create file: %w", err)
	}
	return fileView(row), nil
}

// ListWorkspaces returns workspaces ordered by creation time.
func (r *DocumentRepositoryImpl) ListWorkspaces(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	var rows []models.Workspace
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list workspaces: %w", err)
	}
	docs := make([]*models.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, workspaceView(&rows[i]))
	}
	return docs, nil
}

// ListFolders returns a workspace's folders ordered by creation time.
func (r *DocumentRepositoryImpl) ListFolders(ctx context.Context, workspaceID string) ([]*models.Document, error) {
	var rows []models.Folder
	err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list folders: %w", err)
	}
	docs := make([]*models.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, folderView(&rows[i]))
	}
	return docs, nil
}

// ListFiles returns a folder's files ordered by creation time.
func (r *DocumentRepositoryImpl) ListFiles(ctx context.Context, folderID string) ([]*models.Document, error) {
	var rows []models.File
	err := r.db.WithContext(ctx).
		Where("folder_id = ?", folderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list files: %w", err)
	}
	docs := make([]*models.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, fileView(&rows[i]))
	}
	return docs, nil
}

// UpdateFields applies a partial update to one row. Nil pointers are left
// untouched.
func (r *DocumentRepositoryImpl) UpdateFields(ctx context.Context, h models.Handle, update *models.DocumentUpdate) error {
	fields := make(map[string]any)
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.IconID != nil {
		fields["icon_id"] = *update.IconID
	}
	if update.Data != nil {
		fields["data"] = *update.Data
	}
	if update.InTrash != nil {
		fields["in_trash"] = *update.InTrash
	}
	if update.BannerURL != nil {
		fields["banner_url"] = *update.BannerURL
	}
	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Table(tableFor(h.Kind)).
		Where("id = ?", h.ID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("repository: update %s: %w", h, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return nil
}

// SaveSnapshot replaces the row's content blob wholesale. This is the
// persistence half of the debounced save: last writer wins, no version
// compare.
func (r *DocumentRepositoryImpl) SaveSnapshot(ctx context.Context, h models.Handle, data string) error {
	result := r.db.WithContext(ctx).
		Table(tableFor(h.Kind)).
		Where("id = ?", h.ID).
		Update("data", data)
	if result.Error != nil {
		return fmt.Errorf("repository: save snapshot %s: %w", h, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, h)
	}
	return nil
}

func tableFor(kind models.HandleKind) string {
	switch kind {
	case models.HandleWorkspace:
		return "workspaces"
	case models.HandleFolder:
		return "folders"
	default:
		return "files"
	}
}

func workspaceView(row *models.Workspace) *models.Document {
	return &models.Document{
		Kind:      models.HandleWorkspace,
		ID:        row.ID,
		Title:     row.Title,
		IconID:    row.IconID,
		Data:      row.Data,
		InTrash:   row.InTrash,
		BannerURL: row.BannerURL,
		CreatedAt: row.CreatedAt,
	}
}

func folderView(row *models.Folder) *models.Document {
	return &models.Document{
		Kind:        models.HandleFolder,
		ID:          row.ID,
		Title:       row.Title,
		IconID:      row.IconID,
		Data:        row.Data,
		InTrash:     row.InTrash,
		BannerURL:   row.BannerURL,
		WorkspaceID: row.WorkspaceID,
		CreatedAt:   row.CreatedAt,
	}
}

func fileView(row *models.File) *models.Document {
	return &models.Document{
		Kind:        models.HandleFile,
		ID:          row.ID,
		Title:       row.Title,
		IconID:      row.IconID,
		Data:        row.Data,
		InTrash:     row.InTrash,
		BannerURL:   row.BannerURL,
		WorkspaceID: row.WorkspaceID,
		FolderID:    row.FolderID,
		CreatedAt:   row.CreatedAt,
	}
}
