package collaboration

import (
	"context"
	"sync"
	"time"

	"collabd/internal/models"
	"collabd/internal/quill"

	"go.uber.org/zap"
)

const (
	registryTimeout       = 5 * time.Second
	defaultSessionTimeout = 5 * time.Minute
	cleanupInterval       = 30 * time.Second
)

// BroadcastMessage is a frame to fan out to a document's sessions.
type BroadcastMessage struct {
	FileID  string
	Message []byte
	Sender  *Session // skipped when broadcasting, so edits never echo
}

// room holds all live state for one document handle: the connected
// sessions, the in-memory content the received deltas compose into, and
// the debounced saver that persists it.
type room struct {
	handle   models.Handle
	sessions map[*Session]bool

	mu      sync.Mutex
	content quill.Delta
	saver   *SnapshotSaver
}

// HubOptions configures a Hub.
type HubOptions struct {
	SaveDebounce   time.Duration
	SessionTimeout time.Duration
}

// Hub manages all active collaboration rooms. One room exists per document
// handle; sessions register into it, deltas and cursors fan out from it,
// and the room's saver persists snapshots independently of broadcasting.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	broadcast chan *BroadcastMessage
	done      chan struct{}

	store    DocumentStore
	presence PresenceRegistry
	logger   *zap.Logger

	saveDebounce   time.Duration
	sessionTimeout time.Duration
}

// NewHub creates a hub. Call Start before subscribing sessions.
func NewHub(store DocumentStore, presence PresenceRegistry, logger *zap.Logger, opts HubOptions) *Hub {
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = DefaultSaveDebounce
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}
	return &Hub{
		rooms:          make(map[string]*room),
		broadcast:      make(chan *BroadcastMessage, 256),
		done:           make(chan struct{}),
		store:          store,
		presence:       presence,
		logger:         logger,
		saveDebounce:   opts.SaveDebounce,
		sessionTimeout: opts.SessionTimeout,
	}
}

// Start begins the broadcast loop and the stale-session sweeper.
func (h *Hub) Start() {
	go func() {
		for {
			select {
			case <-h.done:
				return
			case msg := <-h.broadcast:
				h.fanOut(msg)
			}
		}
	}()
	go h.cleanupLoop()
	h.logger.Info("collaboration hub started")
}

// Subscribe registers a session into its document's room and announces its
// presence. The presence track always happens here, before the session's
// pumps start, so no delta or cursor can be broadcast for a peer that was
// never tracked. initial seeds the room content when the room is new.
func (h *Hub) Subscribe(s *Session, initial quill.Delta) {
	h.mu.Lock()
	rm, ok := h.rooms[s.Handle.ID]
	if !ok {
		rm = &room{
			handle:   s.Handle,
			sessions: make(map[*Session]bool),
			content:  initial,
		}
		handle := s.Handle
		rm.saver = NewSnapshotSaver(handle, h.store, h.saveDebounce, h.logger, func(status models.SaveStatus) {
			h.pushSaveStatus(handle.ID, status)
		})
		h.rooms[s.Handle.ID] = rm
	}
	rm.sessions[s] = true
	total := len(rm.sessions)
	h.mu.Unlock()

	h.logger.Info("session joined",
		zap.String("session_id", s.ID),
		zap.String("handle", s.Handle.String()),
		zap.Int("peers", total))

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := h.presence.Track(ctx, s.Handle.ID, s.Peer); err != nil {
		// Degraded: the peer still collaborates but is invisible in the
		// collaborator list until the next sync refresh.
		h.logger.Warn("presence track failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}

	h.pushPresence(s.Handle.ID, models.PresenceJoin, &s.Peer, s)
	h.syncPresence(s.Handle.ID)
}

// Unsubscribe removes a session, withdraws its presence, and tears the
// room down when it empties. Safe to call more than once per session.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	rm, ok := h.rooms[s.Handle.ID]
	if !ok || !rm.sessions[s] {
		h.mu.Unlock()
		return
	}
	delete(rm.sessions, s)
	close(s.Send)
	empty := len(rm.sessions) == 0
	remaining := len(rm.sessions)
	h.mu.Unlock()

	h.logger.Info("session left",
		zap.String("session_id", s.ID),
		zap.String("handle", s.Handle.String()),
		zap.Int("peers", remaining))

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := h.presence.Untrack(ctx, s.Handle.ID, s.Peer.ID); err != nil {
		h.logger.Warn("presence untrack failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}

	if !empty {
		h.pushPresence(s.Handle.ID, models.PresenceLeave, &s.Peer, nil)
		h.syncPresence(s.Handle.ID)
		return
	}

	// Flush while the room is still registered: a peer re-subscribing
	// mid-flush joins the live in-memory content instead of seeding a
	// fresh room from a row the flush has not reached yet.
	rm.saver.Flush()

	h.mu.Lock()
	if h.rooms[s.Handle.ID] != rm || len(rm.sessions) > 0 {
		// Someone re-joined during the flush, or another teardown
		// already retired this room; it is not ours to remove.
		h.mu.Unlock()
		return
	}
	delete(h.rooms, s.Handle.ID)
	h.mu.Unlock()
	rm.saver.Close()
}

// HandleDelta processes a content delta read from a session: the handle
// guard drops cross-document bleed, peers receive the original frame
// without echoing the sender, and the composed room content is queued for
// the debounced save.
func (h *Hub) HandleDelta(s *Session, event models.DeltaEvent, frame []byte) {
	if event.FileID != s.Handle.ID {
		h.logger.Debug("dropped delta for foreign handle",
			zap.String("session_handle", s.Handle.ID),
			zap.String("event_handle", event.FileID))
		return
	}
	delta, err := quill.Parse(event.Delta)
	if err != nil {
		h.logger.Warn("dropped malformed delta",
			zap.String("session_id", s.ID),
			zap.Error(err))
		return
	}

	h.Broadcast(s.Handle.ID, frame, s)

	h.mu.RLock()
	rm := h.rooms[s.Handle.ID]
	h.mu.RUnlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	composed, err := quill.Apply(rm.content, delta)
	if err != nil {
		h.logger.Warn("delta did not compose",
			zap.String("handle", s.Handle.String()),
			zap.Error(err))
		return
	}
	rm.content = composed
	serialized, err := composed.Marshal()
	if err != nil {
		h.logger.Warn("snapshot serialize failed",
			zap.String("handle", s.Handle.String()),
			zap.Error(err))
		return
	}
	rm.saver.Queue(string(serialized))
}

// HandleCursor relays a cursor move to the session's peers. Cursor ranges
// are never stored; a frame for a foreign handle is dropped.
func (h *Hub) HandleCursor(s *Session, event models.CursorEvent, frame []byte) {
	if event.FileID != s.Handle.ID {
		h.logger.Debug("dropped cursor for foreign handle",
			zap.String("session_handle", s.Handle.ID),
			zap.String("event_handle", event.FileID))
		return
	}
	h.Broadcast(s.Handle.ID, frame, s)
}

// Broadcast queues a frame for every session in a room except sender.
func (h *Hub) Broadcast(fileID string, message []byte, sender *Session) {
	select {
	case h.broadcast <- &BroadcastMessage{FileID: fileID, Message: message, Sender: sender}:
	case <-h.done:
	}
}

// Sessions returns the live sessions for a document.
func (h *Hub) Sessions(fileID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm := h.rooms[fileID]
	if rm == nil {
		return nil
	}
	out := make([]*Session, 0, len(rm.sessions))
	for s := range rm.sessions {
		out = append(out, s)
	}
	return out
}

// Content returns the room's composed document, if the room is live.
func (h *Hub) Content(fileID string) (quill.Delta, bool) {
	h.mu.RLock()
	rm := h.rooms[fileID]
	h.mu.RUnlock()
	if rm == nil {
		return quill.Delta{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.content, true
}

// SaveStatus returns the room saver's current label, SaveIdle when the
// room is not live.
func (h *Hub) SaveStatus(fileID string) models.SaveStatus {
	h.mu.RLock()
	rm := h.rooms[fileID]
	h.mu.RUnlock()
	if rm == nil {
		return models.SaveIdle
	}
	return rm.saver.Status()
}

func (h *Hub) fanOut(msg *BroadcastMessage) {
	// Sends happen under the read lock so Unsubscribe cannot close a Send
	// channel mid-fanout. The sends never block, so holding it is safe.
	var evict []*Session
	h.mu.RLock()
	if rm := h.rooms[msg.FileID]; rm != nil {
		for s := range rm.sessions {
			if msg.Sender != nil && s == msg.Sender {
				continue
			}
			select {
			case s.Send <- msg.Message:
			default:
				// Buffer full means the connection is slow or dead.
				evict = append(evict, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range evict {
		h.logger.Warn("session buffer full, evicting",
			zap.String("session_id", s.ID))
		go h.Unsubscribe(s)
	}
}

// sendDirect queues a frame for one session, skipping it once
// unsubscribed. The membership check and the send share the read lock so
// this can never hit a closed Send channel.
func (h *Hub) sendDirect(s *Session, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rm := h.rooms[s.Handle.ID]
	if rm == nil || !rm.sessions[s] {
		return
	}
	select {
	case s.Send <- frame:
	default:
	}
}

func (h *Hub) pushPresence(fileID, kind string, peer *models.Presence, sender *Session) {
	frame, err := models.MarshalEvent(models.EventPresence, models.PresenceEvent{Kind: kind, Peer: peer})
	if err != nil {
		h.logger.Warn("presence event marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(fileID, frame, sender)
}

// syncPresence recomputes the collaborator list from the registry and
// pushes it to every session in the room. The payload replaces client
// state wholesale, so repeated syncs cannot duplicate cursor overlays.
func (h *Hub) syncPresence(fileID string) {
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	peers, err := h.presence.State(ctx, fileID)
	if err != nil {
		h.logger.Warn("presence state fetch failed",
			zap.String("file_id", fileID),
			zap.Error(err))
		return
	}
	frame, err := models.MarshalEvent(models.EventPresence, models.PresenceEvent{Kind: models.PresenceSync, Peers: peers})
	if err != nil {
		h.logger.Warn("presence sync marshal failed", zap.Error(err))
		return
	}
	h.Broadcast(fileID, frame, nil)
}

func (h *Hub) pushSaveStatus(fileID string, status models.SaveStatus) {
	frame, err := models.MarshalEvent(models.EventSaveStatus, models.SaveStatusEvent{FileID: fileID, Status: status})
	if err != nil {
		return
	}
	h.Broadcast(fileID, frame, nil)
}

func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.evictStale()
		}
	}
}

func (h *Hub) evictStale() {
	cutoff := time.Now().Add(-h.sessionTimeout)
	var stale []*Session
	h.mu.RLock()
	for _, rm := range h.rooms {
		for s := range rm.sessions {
			if s.lastActive().Before(cutoff) {
				stale = append(stale, s)
			}
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.logger.Info("evicting inactive session", zap.String("session_id", s.ID))
		if s.Conn != nil {
			s.Conn.Close()
		}
		h.Unsubscribe(s)
	}
}

// Shutdown flushes every room's saver and closes all connections.
func (h *Hub) Shutdown() {
	close(h.done)

	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, rm := range rooms {
		for s := range rm.sessions {
			close(s.Send)
			if s.Conn != nil {
				s.Conn.Close()
			}
		}
		rm.saver.Close()
	}
	h.logger.Info("collaboration hub shut down")
}
