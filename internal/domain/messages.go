package domain

import (
	"encoding/json"
	"time"
)

// WebSocket message types from client.
const (
	MsgTypeJoinRoom            = "join_room"
	MsgTypeLeaveRoom           = "leave_room"
	MsgTypeChatMessage         = "chat_message"
	MsgTypeRequestModeration   = "request_moderation"
	MsgTypePresence            = "presence"
	MsgTypeUpdateSharedNotes   = "update_shared_notes"
	MsgTypeUpdatePersonalNotes = "update_personal_notes"
	MsgTypeSetQuiz             = "set_quiz"
	MsgTypePing                = "ping"
)

// WebSocket message types to client. chat_message and presence are shared
// with the inbound set.
const (
	MsgTypeRoomSnapshot         = "room_snapshot"
	MsgTypeRoomLeft             = "room_left"
	MsgTypeSystemMessage        = "system_message"
	MsgTypeModerationRejected   = "moderation_rejected"
	MsgTypeModerationRequested  = "moderation_requested"
	MsgTypeNotesUpdated         = "notes_updated"
	MsgTypePersonalNotesUpdated = "personal_notes_updated"
	MsgTypeQuizUpdated          = "quiz_updated"
	MsgTypeRoomClosed           = "room_closed"
	MsgTypeError                = "error"
	MsgTypePong                 = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeNotInRoom        = "NOT_IN_ROOM"
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeRoomFull         = "ROOM_FULL"
	ErrCodeDeliveryFailed   = "DELIVERY_FAILED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInterventionsOff = "INTERVENTIONS_DISABLED"
)

// System message actions.
const (
	SystemActionWarn         = "warn"
	SystemActionDisputeNudge = "dispute_nudge"
	SystemActionIntervention = "intervention"
)

// Presence/drawing event names accepted by the relay.
const (
	PresenceTyping          = "typing"
	PresenceCursor          = "cursor"
	PresenceDrawStroke      = "draw_stroke"
	PresenceWhiteboardClear = "whiteboard_clear"
	PresenceEmojiReaction   = "emoji_reaction"
)

// ValidPresenceEvent reports whether name is a relayable event.
func ValidPresenceEvent(name string) bool {
	switch name {
	case PresenceTyping, PresenceCursor, PresenceDrawStroke, PresenceWhiteboardClear, PresenceEmojiReaction:
		return true
	}
	return false
}

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type ChatMessageWS struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Kind    MessageKind `json:"kind,omitempty"`
}

type PresenceWS struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type NotesWS struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type QuizWS struct {
	Type string          `json:"type"`
	Quiz json.RawMessage `json:"quiz"`
}

// Server -> Client messages

type RoomSnapshotMessage struct {
	Type string       `json:"type"`
	Room RoomSnapshot `json:"room"`
}

type RoomLeftMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type ChatMessageOut struct {
	Type       string      `json:"type"`
	MessageID  string      `json:"message_id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	Timestamp  int64       `json:"timestamp"`
}

type SystemMessageOut struct {
	Type       string      `json:"type"`
	MessageID  string      `json:"message_id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Kind       MessageKind `json:"kind"`
	Action     string      `json:"action"`
	ReplyTo    string      `json:"reply_to,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

type ModerationRejectedMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Tier    int    `json:"tier"`
}

type ModerationRequestedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type PresenceOut struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type NotesUpdatedMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	Content   string `json:"content"`
	UpdatedBy string `json:"updated_by"`
	Timestamp int64  `json:"timestamp"`
}

type QuizUpdatedMessage struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id"`
	Quiz      json.RawMessage `json:"quiz"`
	UpdatedBy string          `json:"updated_by"`
	Timestamp int64           `json:"timestamp"`
}

type RoomClosedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewChatMessageOut renders a persisted message for the wire.
func NewChatMessageOut(m Message) *ChatMessageOut {
	return &ChatMessageOut{
		Type:       MsgTypeChatMessage,
		MessageID:  m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Body,
		Kind:       m.Kind,
		Timestamp:  m.CreatedAt.UnixMilli(),
	}
}

// NewSystemMessageOut renders a moderator message. id is assigned by the
// caller so system messages sort with chat messages on the client.
func NewSystemMessageOut(id, roomID, action, content, replyTo string, at time.Time) *SystemMessageOut {
	return &SystemMessageOut{
		Type:       MsgTypeSystemMessage,
		MessageID:  id,
		RoomID:     roomID,
		SenderID:   ModeratorID,
		SenderName: ModeratorName,
		Content:    content,
		Kind:       KindSystem,
		Action:     action,
		ReplyTo:    replyTo,
		Timestamp:  at.UnixMilli(),
	}
}
