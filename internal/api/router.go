package api

import (
	"net/http"

	"collabd/internal/middleware"

	"github.com/gorilla/mux"
)

const kindPattern = "{kind:workspace|folder|file}"

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Tracing first so every request gets a root span, then recovery,
	// then CORS.
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Workspace endpoints
	api.HandleFunc("/workspaces", h.CreateWorkspace).Methods("POST")
	api.HandleFunc("/workspaces", h.ListWorkspaces).Methods("GET")
	api.HandleFunc("/workspaces/{id}/folders", h.ListFolders).Methods("GET")

	// Folder endpoints
	api.HandleFunc("/folders", h.CreateFolder).Methods("POST")
	api.HandleFunc("/folders/{id}/files", h.ListFiles).Methods("GET")

	// File endpoints
	api.HandleFunc("/files", h.CreateFile).Methods("POST")

	// Kind-generic document endpoints
	api.HandleFunc("/"+kindPattern+"/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/"+kindPattern+"/{id}", h.UpdateDocument).Methods("PUT")
	api.HandleFunc("/"+kindPattern+"/{id}/banner", h.UploadBanner).Methods("PUT")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Realtime channel: one topic per document handle
	r.HandleFunc("/ws/"+kindPattern+"/{id}", h.HandleChannel)

	return r
}
