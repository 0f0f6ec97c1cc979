package service

import (
	"context"

	"github.com/shravanisdakve/NexusAI-sub002/internal/audit"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/repository"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// roomServiceImpl implements RoomService interface.
type roomServiceImpl struct {
	repo     repository.RoomRepository
	messages repository.MessageRepository
	rooms    Rooms
}

// NewRoomService creates a new room service. Reads of live rooms go
// through the registry so they see in-memory state.
func NewRoomService(repo repository.RoomRepository, messages repository.MessageRepository, rooms Rooms) RoomService {
	return &roomServiceImpl{
		repo:     repo,
		messages: messages,
		rooms:    rooms,
	}
}

func (s *roomServiceImpl) CreateRoom(ctx context.Context, userID string, req *domain.CreateRoomRequest) (*domain.Room, error) {
	room := &domain.Room{
		Name:     req.Name,
		CourseID: req.CourseID,
		Capacity: req.Capacity,
	}
	if err := s.repo.Create(ctx, room); err != nil {
		return nil, err
	}
	audit.Log(ctx, audit.ActionCreateRoom, userID, room.ID, "room created")
	return room, nil
}

func (s *roomServiceImpl) GetRoom(ctx context.Context, roomID string) (*domain.RoomSnapshot, error) {
	snap, err := s.rooms.Snapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRooms lists rooms with pagination. Personal notes are stripped.
func (s *roomServiceImpl) ListRooms(ctx context.Context, page, pageSize int, includeInactive bool) (*domain.ListRoomsResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	rooms, total, err := s.repo.List(ctx, page, pageSize, !includeInactive)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].PersonalNotes = nil
	}

	return &domain.ListRoomsResponse{
		Rooms:      rooms,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *roomServiceImpl) CloseRoom(ctx context.Context, userID, roomID string) error {
	if err := s.rooms.Deactivate(ctx, roomID); err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionDeactivateRoom, userID, roomID, "room closed over REST")
	return nil
}

// RecentMessages returns up to limit persisted messages, oldest first.
func (s *roomServiceImpl) RecentMessages(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	if _, err := s.repo.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	return s.messages.ListRecent(ctx, roomID, limit)
}

// RequestModeration asks for an intervention on behalf of a durable
// participant of the room.
func (s *roomServiceImpl) RequestModeration(ctx context.Context, userID, roomID string) error {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Active {
		return domain.ErrRoomNotFound
	}
	if !room.HasParticipant(userID) {
		return domain.ErrNotInRoom
	}
	if err := s.rooms.RequestIntervention(ctx, roomID); err != nil {
		return err
	}
	audit.Log(ctx, audit.ActionRequestHelp, userID, roomID, "moderation requested over REST")
	return nil
}
