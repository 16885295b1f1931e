package session

import (
	"context"
	"encoding/json"
	"sync"

	"coderoom/internal/metrics"
	"coderoom/internal/models"
	"coderoom/internal/utils"
)

// Session interprets the inbound events of one connection. It is either
// unjoined or joined to exactly one room.
type Session struct {
	hub    *Hub
	client *Client
	log    *utils.Logger

	mu     sync.Mutex
	room   *Room
	closed bool
}

func NewSession(hub *Hub, client *Client, log *utils.Logger) *Session {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Session{
		hub:    hub,
		client: client,
		log:    log.With("conn", client.ID, "user", client.User),
	}
}

func (s *Session) Client() *Client { return s.client }

// RoomID returns the joined room, if any.
func (s *Session) RoomID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return "", false
	}
	return s.room.ID, true
}

// Handle dispatches one inbound frame. Events that need a room are ignored
// while unjoined.
func (s *Session) Handle(ctx context.Context, frame models.InboundFrame) {
	metrics.EventsReceived.WithLabelValues(eventLabel(frame.Type)).Inc()

	switch frame.Type {
	case models.EventJoin:
		var req models.JoinRequest
		if !s.decode(frame, &req) {
			return
		}
		s.Join(ctx, req.RoomID)

	case models.EventCodeChange:
		var req models.CodeChange
		if !s.decode(frame, &req) {
			return
		}
		s.CodeChange(req.Code)

	case models.EventTyping:
		s.Typing()

	case models.EventLanguageChange:
		var req models.LanguageChange
		if !s.decode(frame, &req) {
			return
		}
		s.LanguageChange(req.Language)

	case models.EventSaveDocument:
		var req models.SaveDocument
		if !s.decode(frame, &req) {
			return
		}
		s.SaveDocument(req.Code)

	case models.EventLeaveRoom:
		s.Leave()

	default:
		s.client.Send(errFrame("unknown_type"))
	}
}

// Join moves the session into roomID, leaving any previous room first.
func (s *Session) Join(ctx context.Context, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.leaveLocked()

	room, err := s.hub.AddMember(roomID, s.client)
	if err != nil {
		s.log.Warn("join refused", "room", roomID, "error", err.Error())
		return
	}
	s.room = room
	s.log.Info("joined room", "room", roomID)

	doc, err := s.hub.LoadDocument(ctx, roomID)
	if err != nil {
		s.log.Error("document load failed", "room", roomID, "error", err.Error())
	} else {
		s.client.Send(models.WSFrame{
			Type: models.EventLoadDocument,
			Data: models.LoadDocument{Code: doc.Content},
		})
	}
	room.BroadcastPresence()
}

// CodeChange relays code to the other members and schedules an autosave.
func (s *Session) CodeChange(code string) {
	room := s.joined(models.EventCodeChange)
	if room == nil {
		return
	}
	room.Relay(models.WSFrame{Type: models.EventCodeUpdate, Data: models.CodeUpdate{Code: code}}, s.client, code, s.client.User)
}

func (s *Session) Typing() {
	room := s.joined(models.EventTyping)
	if room == nil {
		return
	}
	room.Emit(models.WSFrame{Type: models.EventUserTyping, Data: models.UserTyping{User: s.client.User}}, s.client)
}

// LanguageChange is shared display state, so the sender receives it too.
func (s *Session) LanguageChange(language string) {
	room := s.joined(models.EventLanguageChange)
	if room == nil {
		return
	}
	room.Emit(models.WSFrame{Type: models.EventLanguageUpdate, Data: models.LanguageUpdate{Language: language}}, nil)
}

// SaveDocument writes code immediately and acknowledges the requester only.
func (s *Session) SaveDocument(code string) {
	room := s.joined(models.EventSaveDocument)
	if room == nil {
		return
	}
	err := room.Autosaver().SaveNow(code, s.client.User)
	if err != nil {
		s.log.Error("explicit save failed", "room", room.ID, "error", err.Error())
	}
	s.client.Send(models.WSFrame{
		Type: models.EventDocumentSaved,
		Data: models.DocumentSaved{Success: err == nil},
	})
}

// Leave returns the session to unjoined. Calling it while unjoined does nothing.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked()
}

// Close leaves the room and releases the connection. Only the first call has any effect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.leaveLocked()
	s.mu.Unlock()

	s.client.Close()
	s.log.Debug("session closed")
}

func (s *Session) leaveLocked() {
	if s.room == nil {
		return
	}
	room := s.room
	s.room = nil
	s.hub.RemoveMember(room, s.client)
	s.log.Info("left room", "room", room.ID)
}

func (s *Session) joined(event string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		s.log.Debug("event ignored while unjoined", "event", event)
	}
	return s.room
}

func (s *Session) decode(frame models.InboundFrame, out any) bool {
	if len(frame.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(frame.Data, out); err != nil {
		s.log.Debug("payload rejected", "event", frame.Type, "error", err.Error())
		s.client.Send(errFrame("invalid_payload"))
		return false
	}
	return true
}

func errFrame(msg string) models.WSFrame { return models.WSFrame{Type: models.EventError, Data: msg} }

func eventLabel(t string) string {
	switch t {
	case models.EventJoin, models.EventCodeChange, models.EventTyping,
		models.EventLanguageChange, models.EventSaveDocument, models.EventLeaveRoom:
		return t
	}
	return "unknown"
}
