package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"collabd/internal/models"
	"collabd/internal/repository"
	"collabd/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests for the document CRUD surface around the
// collaboration channels.
type Handler struct {
	docRepo   DocumentRepo
	assets    AssetStore
	wsHandler *collaboration.WebSocketHandler
}

func NewHandler(docRepo DocumentRepo, assets AssetStore, wsHandler *collaboration.WebSocketHandler) *Handler {
	return &Handler{
		docRepo:   docRepo,
		assets:    assets,
		wsHandler: wsHandler,
	}
}

// Workspace handlers

func (h *Handler) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var row models.Workspace
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if row.Title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	created, err := h.docRepo.CreateWorkspace(r.Context(), &row)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	docs, err := h.docRepo.ListWorkspaces(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspaces": docs,
		"limit":      limit,
		"offset":     offset,
	})
}

// Folder handlers

func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var row models.Folder
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if row.Title == "" || row.WorkspaceID == "" {
		http.Error(w, "title and workspace_id are required", http.StatusBadRequest)
		return
	}

	created, err := h.docRepo.CreateFolder(r.Context(), &row)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListFolders(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["id"]
	docs, err := h.docRepo.ListFolders(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": docs})
}

// File handlers

func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	var row models.File
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if row.Title == "" || row.WorkspaceID == "" || row.FolderID == "" {
		http.Error(w, "title, workspace_id and folder_id are required", http.StatusBadRequest)
		return
	}

	created, err := h.docRepo.CreateFile(r.Context(), &row)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	folderID := mux.Vars(r)["id"]
	docs, err := h.docRepo.ListFiles(r.Context(), folderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": docs})
}

// Shared document handlers, routed per kind

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc, err := h.docRepo.Get(r.Context(), handle)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var update models.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.docRepo.UpdateFields(r.Context(), handle, &update)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	doc, err := h.docRepo.Get(r.Context(), handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UploadBanner stores a banner image for a document and points the row's
// banner_url at it.
func (h *Handler) UploadBanner(w http.ResponseWriter, r *http.Request) {
	handle, err := handleFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("banner")
	if err != nil {
		http.Error(w, "banner file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	objectPath := fmt.Sprintf("banners/%s/%s", handle.ID, header.Filename)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	stored, err := h.assets.Upload(r.Context(), objectPath, file, header.Size, contentType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	update := &models.DocumentUpdate{BannerURL: &stored}
	err = h.docRepo.UpdateFields(r.Context(), handle, update)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	url, err := h.assets.ResolveURL(r.Context(), stored)
	if err != nil {
		// The object is stored and the row updated; the client can
		// re-request a URL later.
		url = ""
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"banner_url": stored,
		"url":        url,
	})
}

// Channel endpoint

func (h *Handler) HandleChannel(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}

// Helpers

func handleFromRequest(r *http.Request) (models.Handle, error) {
	vars := mux.Vars(r)
	return models.NewHandle(models.HandleKind(vars["kind"]), vars["id"])
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = defaultPageSize, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
