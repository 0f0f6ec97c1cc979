package service

import (
	"context"
	"encoding/json"

	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/hub"
	"github.com/shravanisdakve/NexusAI-sub002/internal/room"
)

// Rooms is the part of the room registry the outer layer drives.
type Rooms interface {
	Join(ctx context.Context, roomID, connID string, p domain.Participant) (domain.RoomSnapshot, error)
	Leave(ctx context.Context, roomID, connID string) error
	Submit(ctx context.Context, roomID string, sender room.Sender, body string, kind domain.MessageKind) (domain.Message, error)
	Relay(roomID string, sender room.Sender, event string, data json.RawMessage) error
	UpdateSharedNotes(ctx context.Context, roomID string, sender room.Sender, content string) error
	UpdatePersonalNotes(ctx context.Context, roomID string, sender room.Sender, content string) error
	SetActiveQuiz(ctx context.Context, roomID string, sender room.Sender, quiz json.RawMessage) error
	Snapshot(ctx context.Context, roomID string) (domain.RoomSnapshot, error)
	Deactivate(ctx context.Context, roomID string) error
	RequestIntervention(ctx context.Context, roomID string) error
}

var _ Rooms = (*room.Registry)(nil)

// ChatService handles the websocket protocol for one connection at a time.
type ChatService interface {
	HandleJoinRoom(ctx context.Context, client *hub.Client, roomID string) error
	HandleLeaveRoom(ctx context.Context, client *hub.Client) error
	HandleChatMessage(ctx context.Context, client *hub.Client, content string, kind domain.MessageKind) error
	HandlePresence(ctx context.Context, client *hub.Client, event string, data json.RawMessage) error
	HandleSharedNotes(ctx context.Context, client *hub.Client, content string) error
	HandlePersonalNotes(ctx context.Context, client *hub.Client, content string) error
	HandleSetQuiz(ctx context.Context, client *hub.Client, quiz json.RawMessage) error
	HandleRequestModeration(ctx context.Context, client *hub.Client) error
	HandleDisconnect(ctx context.Context, client *hub.Client) error
}

// RoomService backs the REST API.
type RoomService interface {
	CreateRoom(ctx context.Context, userID string, req *domain.CreateRoomRequest) (*domain.Room, error)
	GetRoom(ctx context.Context, roomID string) (*domain.RoomSnapshot, error)
	ListRooms(ctx context.Context, page, pageSize int, includeInactive bool) (*domain.ListRoomsResponse, error)
	CloseRoom(ctx context.Context, userID, roomID string) error
	RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error)
	RequestModeration(ctx context.Context, userID, roomID string) error
}
