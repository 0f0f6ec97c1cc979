package repository

import (
	"context"
	"encoding/json"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
)

// RoomRepository defines the interface for room data persistence.
// Missing rooms are reported as domain.ErrRoomNotFound.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	List(ctx context.Context, page, pageSize int, activeOnly bool) ([]domain.Room, int, error)
	// AppendParticipant is a no-op when the user is already a participant.
	AppendParticipant(ctx context.Context, roomID string, p domain.Participant) error
	UpdateSharedNotes(ctx context.Context, roomID, notes string) error
	UpdatePersonalNotes(ctx context.Context, roomID, userID, notes string) error
	UpdateActiveQuiz(ctx context.Context, roomID string, quiz json.RawMessage) error
	Deactivate(ctx context.Context, roomID string) error
}

// MessageRepository stores immutable chat messages. AppendMessage must be
// idempotent on msg.ID so a retried write never duplicates a message.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg *domain.Message) error
	// ListRecent returns up to limit of the newest messages, oldest first.
	ListRecent(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
}
