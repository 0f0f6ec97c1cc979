package domain

import "time"

// MessageKind classifies a chat message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindSystem MessageKind = "system"
)

// ModeratorID is the sender id of synthesized moderator messages.
const (
	ModeratorID   = "moderator"
	ModeratorName = "Moderator"
)

// Valid reports whether k is a kind clients may submit.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage
}

// Message is an immutable persisted chat message. SenderName is the display
// name as it was when the message was written.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
}
