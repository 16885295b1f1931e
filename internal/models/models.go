package models

import (
	"encoding/json"
	"time"
)

// UserIdentity is the verified name a connection acts as.
type UserIdentity string

// DefaultDocumentContent seeds a room's document the first time it is joined.
const DefaultDocumentContent = "// start code here"

// Client -> server events.
const (
	EventJoin           = "join"
	EventCodeChange     = "codeChange"
	EventTyping         = "typing"
	EventLanguageChange = "languageChange"
	EventSaveDocument   = "saveDocument"
	EventLeaveRoom      = "leaveRoom"
)

// Server -> client events.
const (
	EventUserJoined     = "userJoined"
	EventCodeUpdate     = "codeUpdate"
	EventUserTyping     = "userTyping"
	EventLanguageUpdate = "languageUpdate"
	EventLoadDocument   = "loadDocument"
	EventDocumentSaved  = "documentSaved"
	EventError          = "error"
)

/*** Websocket frames ***/
type WSFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// InboundFrame keeps the payload raw until the event type is known.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type JoinRequest struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type Typing struct {
	RoomID string `json:"roomId"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type SaveDocument struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type Presence struct {
	Members []UserIdentity `json:"members"`
}

type CodeUpdate struct {
	Code string `json:"code"`
}

type UserTyping struct {
	User UserIdentity `json:"user"`
}

type LanguageUpdate struct {
	Language string `json:"language"`
}

type LoadDocument struct {
	Code string `json:"code"`
}

type DocumentSaved struct {
	Success bool `json:"success"`
}

/*** Persistence ***/

// Document is the durable record behind a room.
type Document struct {
	RoomID    string    `gorm:"primaryKey;column:room_id" bson:"roomId" json:"roomId"`
	Content   string    `gorm:"not null" bson:"content" json:"content"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false" bson:"updatedAt" json:"updatedAt"`
}

// SaveKind tells autosaves apart from explicit saves in logs, metrics and events.
type SaveKind string

const (
	SaveKindAutosave SaveKind = "autosave"
	SaveKindExplicit SaveKind = "explicit"
)

// DocumentSavedEvent is published after a document write succeeds.
type DocumentSavedEvent struct {
	RoomID     string       `json:"roomId"`
	Kind       SaveKind     `json:"kind"`
	SavedBy    UserIdentity `json:"savedBy,omitempty"`
	Length     int          `json:"length"`
	UpdatedAt  string       `json:"updatedAt"`
	InstanceID string       `json:"instanceId"`
}

/*** REST ***/
type RoomSummary struct {
	RoomID      string         `json:"roomId"`
	Members     []UserIdentity `json:"members"`
	Connections int            `json:"connections"`
}

type PingResponse struct {
	Message string `json:"message"`
}
