package collaboration

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"collabd/internal/middleware"
	"collabd/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Session is one peer's live connection to a document channel.
type Session struct {
	*models.Session
	Handle models.Handle
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	logger *zap.Logger

	activeMu sync.Mutex
}

// NewSession builds a session for an upgraded connection.
func NewSession(handle models.Handle, peer models.Presence, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Session {
	return &Session{
		Session: models.NewSession(handle.ID, peer),
		Handle:  handle,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Hub:     hub,
		logger:  logger,
	}
}

func (s *Session) touch() {
	s.activeMu.Lock()
	s.LastActiveAt = time.Now()
	s.activeMu.Unlock()
}

func (s *Session) lastActive() time.Time {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.LastActiveAt
}

// ReadPump reads frames from the connection and dispatches them to the
// hub. One goroutine per session; exits unsubscribe the session.
func (s *Session) ReadPump(ctx context.Context) {
	defer func() {
		s.Hub.Unsubscribe(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, frame, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed",
					zap.String("session_id", s.ID),
					zap.Error(err))
			}
			break
		}
		s.touch()

		msgCtx, span := middleware.StartSpan(ctx, "Channel.ProcessFrame",
			attribute.String("session.id", s.ID),
			attribute.String("handle", s.Handle.String()),
			attribute.Int("frame.size", len(frame)),
		)
		s.dispatch(msgCtx, frame)
		span.End()
	}
}

func (s *Session) dispatch(ctx context.Context, frame []byte) {
	var envelope models.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		middleware.AddSpanError(ctx, err)
		s.logger.Warn("dropped malformed frame",
			zap.String("session_id", s.ID),
			zap.Error(err))
		s.reportError("malformed frame")
		return
	}

	switch envelope.Type {
	case models.EventDelta:
		var event models.DeltaEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			middleware.AddSpanError(ctx, err)
			s.logger.Warn("dropped malformed delta event",
				zap.String("session_id", s.ID),
				zap.Error(err))
			s.reportError("malformed delta payload")
			return
		}
		s.Hub.HandleDelta(s, event, frame)
	case models.EventCursor:
		var event models.CursorEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			middleware.AddSpanError(ctx, err)
			s.logger.Warn("dropped malformed cursor event",
				zap.String("session_id", s.ID),
				zap.Error(err))
			s.reportError("malformed cursor payload")
			return
		}
		s.Hub.HandleCursor(s, event, frame)
	default:
		s.logger.Debug("ignoring frame",
			zap.String("session_id", s.ID),
			zap.String("type", string(envelope.Type)))
	}
}

// reportError queues an error event to this peer only. Best effort: a
// full buffer means the connection is on its way out anyway.
func (s *Session) reportError(message string) {
	frame, err := models.MarshalEvent(models.EventError, models.ErrorEvent{Message: message})
	if err != nil {
		return
	}
	s.Hub.sendDirect(s, frame)
}

// WritePump drains the send buffer to the connection and keeps the peer
// alive with pings. Runs in its own goroutine so a slow reader does not
// block broadcasting.
func (s *Session) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.Conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
