package repository

import (
	"context"
	"errors"
	"testing"

	"collabd/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRepo(t *testing.T) *DocumentRepositoryImpl {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Workspace{}, &models.Folder{}, &models.File{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewDocumentRepository(db, zap.NewNop())
}

func seedTree(t *testing.T, repo *DocumentRepositoryImpl) (workspaceID, folderID string) {
	t.Helper()
	ctx := context.Background()
	ws, err := repo.CreateWorkspace(ctx, &models.Workspace{Title: "Notes"})
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	folder, err := repo.CreateFolder(ctx, &models.Folder{Title: "Drafts", WorkspaceID: ws.ID})
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}
	return ws.ID, folder.ID
}

func TestGetNotFound(t *testing.T) {
	repo := setupRepo(t)

	handle := models.Handle{Kind: models.HandleFile, ID: uuid.NewString()}
	_, err := repo.Get(context.Background(), handle)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureFileCreatesDefault(t *testing.T) {
	repo := setupRepo(t)
	workspaceID, folderID := seedTree(t, repo)
	ctx := context.Background()

	fileID := uuid.NewString()
	doc, created, err := repo.EnsureFile(ctx, fileID, workspaceID, folderID)
	if err != nil {
		t.Fatalf("EnsureFile failed: %v", err)
	}
	if !created {
		t.Error("expected created flag for missing file")
	}
	if doc.Title != DefaultFileTitle {
		t.Errorf("expected title %q, got %q", DefaultFileTitle, doc.Title)
	}
	if doc.ID != fileID {
		t.Errorf("expected requested id %s, got %s", fileID, doc.ID)
	}

	// Second call finds the row instead of creating another.
	again, created, err := repo.EnsureFile(ctx, fileID, workspaceID, folderID)
	if err != nil {
		t.Fatalf("second EnsureFile failed: %v", err)
	}
	if created {
		t.Error("expected created=false on existing file")
	}
	if again.ID != doc.ID {
		t.Errorf("expected same row, got %s vs %s", again.ID, doc.ID)
	}
}

func TestGetIsIdempotent(t *testing.T) {
	repo := setupRepo(t)
	workspaceID, folderID := seedTree(t, repo)
	ctx := context.Background()

	content := `{"ops":[{"insert":"hello"}]}`
	file, err := repo.CreateFile(ctx, &models.File{
		Title:       "Doc",
		Data:        content,
		WorkspaceID: workspaceID,
		FolderID:    folderID,
	})
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	handle := models.Handle{Kind: models.HandleFile, ID: file.ID}
	first, err := repo.Get(ctx, handle)
	if err != nil {
		t.Fatalf("first Get failed: %v", err)
	}
	second, err := repo.Get(ctx, handle)
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if first.Data != content || second.Data != first.Data {
		t.Errorf("expected identical content both times, got %q then %q", first.Data, second.Data)
	}
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	repo := setupRepo(t)
	workspaceID, folderID := seedTree(t, repo)
	ctx := context.Background()

	file, err := repo.CreateFile(ctx, &models.File{
		Title:       "Doc",
		Data:        `{"ops":[{"insert":"old"}]}`,
		WorkspaceID: workspaceID,
		FolderID:    folderID,
	})
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}

	handle := models.Handle{Kind: models.HandleFile, ID: file.ID}
	next := `{"ops":[{"insert":"new"}]}`
	if err := repo.SaveSnapshot(ctx, handle, next); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	doc, err := repo.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Data != next {
		t.Errorf("expected snapshot to replace content wholesale, got %q", doc.Data)
	}
}

func TestSaveSnapshotMissingRow(t *testing.T) {
	repo := setupRepo(t)

	handle := models.Handle{Kind: models.HandleWorkspace, ID: uuid.NewString()}
	err := repo.SaveSnapshot(context.Background(), handle, `{"ops":[]}`)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateFieldsPartial(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	ws, err := repo.CreateWorkspace(ctx, &models.Workspace{Title: "Before", IconID: "📄"})
	if err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}
	handle := models.Handle{Kind: models.HandleWorkspace, ID: ws.ID}

	title := "After"
	trash := "deleted by owner"
	err = repo.UpdateFields(ctx, handle, &models.DocumentUpdate{
		Title:   &title,
		InTrash: &trash,
	})
	if err != nil {
		t.Fatalf("UpdateFields failed: %v", err)
	}

	doc, err := repo.Get(ctx, handle)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc.Title != "After" {
		t.Errorf("expected updated title, got %q", doc.Title)
	}
	if doc.InTrash == nil || *doc.InTrash != trash {
		t.Errorf("expected in_trash set, got %v", doc.InTrash)
	}
	if doc.IconID != "📄" {
		t.Errorf("expected icon untouched, got %q", doc.IconID)
	}
}

func TestListChildren(t *testing.T) {
	repo := setupRepo(t)
	workspaceID, folderID := seedTree(t, repo)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		_, err := repo.CreateFile(ctx, &models.File{
			Title:       title,
			WorkspaceID: workspaceID,
			FolderID:    folderID,
		})
		if err != nil {
			t.Fatalf("CreateFile failed: %v", err)
		}
	}

	files, err := repo.ListFiles(ctx, folderID)
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}

	folders, err := repo.ListFolders(ctx, workspaceID)
	if err != nil {
		t.Fatalf("ListFolders failed: %v", err)
	}
	if len(folders) != 1 {
		t.Errorf("expected 1 folder, got %d", len(folders))
	}
}
