package collaboration

import (
	"encoding/json"
	"errors"
	"net/http"

	"collabd/internal/middleware"
	"collabd/internal/models"
	"collabd/internal/quill"
	"collabd/internal/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate the origin once the dashboard's domain is fixed
		return true
	},
}

// WebSocketHandler upgrades document channel connections and runs the
// session lifecycle: load content, send setup, announce presence, attach
// pumps.
type WebSocketHandler struct {
	hub     *Hub
	store   DocumentStore
	avatars AvatarResolver
	logger  *zap.Logger
}

// NewWebSocketHandler creates the handler. avatars may be nil, in which
// case presence payloads carry the avatar path as given.
func NewWebSocketHandler(hub *Hub, store DocumentStore, avatars AvatarResolver, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, store: store, avatars: avatars, logger: logger}
}

// HandleConnection serves one channel subscription at /ws/{kind}/{id}.
// The peer identifies itself through query parameters; a missing file row
// is created on the spot and flagged in the setup reply so the client can
// redirect to the fresh document.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	handle, err := models.NewHandle(models.HandleKind(vars["kind"]), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	peer := models.Presence{
		ID:    r.URL.Query().Get("peer_id"),
		Email: r.URL.Query().Get("email"),
	}
	if peer.ID == "" {
		http.Error(w, "peer_id is required", http.StatusBadRequest)
		return
	}
	if peer.Email == "" {
		peer.Email = "anonymous"
	}
	if avatarPath := r.URL.Query().Get("avatar"); avatarPath != "" {
		peer.AvatarURL = h.resolveAvatar(r, avatarPath)
	}

	ctx, span := middleware.StartSpan(ctx, "Channel.Connect",
		attribute.String("handle", handle.String()),
		attribute.String("peer.id", peer.ID),
	)
	defer span.End()

	doc, created, err := h.loadDocument(r, handle)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		status := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			// Folders and workspaces are never auto-created; the session
			// degrades to nothing rather than fabricating a container row.
			h.logger.Warn("channel refused: no document for handle",
				zap.String("handle", handle.String()))
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	content := json.RawMessage(doc.Data)
	if doc.Data == "" {
		content = json.RawMessage(`{"ops":[]}`)
	}
	initial, err := quill.Parse(content)
	if err != nil {
		// A corrupt blob falls back to an empty document; the next
		// snapshot save replaces it.
		h.logger.Warn("stored content did not parse, starting empty",
			zap.String("handle", handle.String()),
			zap.Error(err))
		initial = quill.Delta{}
		content = json.RawMessage(`{"ops":[]}`)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	session := NewSession(handle, peer, conn, h.hub, h.logger)

	setup, err := models.MarshalEvent(models.EventSetup, models.SetupEvent{
		FileID:     handle.ID,
		Content:    content,
		Created:    created,
		SaveStatus: h.hub.SaveStatus(handle.ID),
	})
	if err != nil {
		h.logger.Warn("setup event marshal failed", zap.Error(err))
		conn.Close()
		return
	}
	// Queued before the pumps start so setup is always the first frame
	// the client sees.
	session.Send <- setup

	h.hub.Subscribe(session, initial)

	go session.WritePump(ctx)
	go session.ReadPump(ctx)

	h.logger.Info("channel subscription established",
		zap.String("handle", handle.String()),
		zap.String("peer_id", peer.ID),
		zap.Bool("created", created))
}

// loadDocument resolves the handle's row. Files that do not exist yet are
// created with the default title; other kinds surface ErrNotFound.
func (h *WebSocketHandler) loadDocument(r *http.Request, handle models.Handle) (*models.Document, bool, error) {
	ctx := r.Context()
	if handle.Kind == models.HandleFile {
		workspaceID := r.URL.Query().Get("workspace_id")
		folderID := r.URL.Query().Get("folder_id")
		return h.store.EnsureFile(ctx, handle.ID, workspaceID, folderID)
	}
	doc, err := h.store.Get(ctx, handle)
	return doc, false, err
}

func (h *WebSocketHandler) resolveAvatar(r *http.Request, avatarPath string) string {
	if h.avatars == nil {
		return avatarPath
	}
	url, err := h.avatars.ResolveURL(r.Context(), avatarPath)
	if err != nil {
		h.logger.Warn("avatar url resolve failed",
			zap.String("avatar", avatarPath),
			zap.Error(err))
		return ""
	}
	return url
}
