package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shravanisdakve/NexusAI-sub002/internal/audit"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/hub"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
	"github.com/shravanisdakve/NexusAI-sub002/internal/room"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

type chatService struct {
	rooms Rooms
}

func NewChatService(rooms Rooms) ChatService {
	return &chatService{rooms: rooms}
}

func sender(c *hub.Client) room.Sender {
	return room.Sender{
		ConnID:      c.ID,
		UserID:      c.Session.GetUserID(),
		DisplayName: c.Session.GetUsername(),
	}
}

func (s *chatService) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	if roomID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "room_id is required"))
	}

	// one room per connection
	if current := c.Session.GetCurrentRoom(); current != "" && current != roomID {
		s.leave(ctx, c)
	}

	if _, err := s.rooms.Join(ctx, roomID, c.ID, c.Session.Participant()); err != nil {
		return s.fail(ctx, c, roomID, err)
	}
	c.Session.JoinRoom(roomID)
	return nil
}

func (s *chatService) HandleLeaveRoom(ctx context.Context, c *hub.Client) error {
	roomID := s.leave(ctx, c)
	if roomID == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotInRoom, "not in a room"))
	}
	return c.SendMessage(&domain.RoomLeftMessage{Type: domain.MsgTypeRoomLeft, RoomID: roomID})
}

func (s *chatService) HandleChatMessage(ctx context.Context, c *hub.Client, content string, kind domain.MessageKind) error {
	roomID, ok := s.currentRoom(c)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotInRoom, "not in a room"))
	}
	if !c.AllowMessage() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRateLimited, "slow down"))
	}

	if _, err := s.rooms.Submit(ctx, roomID, sender(c), content, kind); err != nil {
		return s.fail(ctx, c, roomID, err)
	}
	return nil
}

func (s *chatService) HandlePresence(ctx context.Context, c *hub.Client, event string, data json.RawMessage) error {
	roomID, ok := s.currentRoom(c)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotInRoom, "not in a room"))
	}
	if !c.AllowPresence() {
		// excess relay events are dropped without an error frame
		return nil
	}
	if err := s.rooms.Relay(roomID, sender(c), event, data); err != nil {
		return s.fail(ctx, c, roomID, err)
	}
	return nil
}

func (s *chatService) HandleSharedNotes(ctx context.Context, c *hub.Client, content string) error {
	return s.edit(ctx, c, func(roomID string) error {
		return s.rooms.UpdateSharedNotes(ctx, roomID, sender(c), content)
	})
}

func (s *chatService) HandlePersonalNotes(ctx context.Context, c *hub.Client, content string) error {
	return s.edit(ctx, c, func(roomID string) error {
		return s.rooms.UpdatePersonalNotes(ctx, roomID, sender(c), content)
	})
}

func (s *chatService) HandleSetQuiz(ctx context.Context, c *hub.Client, quiz json.RawMessage) error {
	return s.edit(ctx, c, func(roomID string) error {
		return s.rooms.SetActiveQuiz(ctx, roomID, sender(c), quiz)
	})
}

func (s *chatService) HandleRequestModeration(ctx context.Context, c *hub.Client) error {
	roomID, ok := s.currentRoom(c)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotInRoom, "not in a room"))
	}
	if !c.AllowMessage() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRateLimited, "slow down"))
	}
	if err := s.rooms.RequestIntervention(ctx, roomID); err != nil {
		return s.fail(ctx, c, roomID, err)
	}
	audit.Log(ctx, audit.ActionRequestHelp, c.Session.GetUserID(), roomID, "moderation requested")
	return c.SendMessage(&domain.ModerationRequestedMessage{Type: domain.MsgTypeModerationRequested, RoomID: roomID})
}

// HandleDisconnect detaches the connection from its room. The durable
// participant record stays.
func (s *chatService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	s.leave(ctx, c)
	return nil
}

func (s *chatService) edit(ctx context.Context, c *hub.Client, apply func(roomID string) error) error {
	roomID, ok := s.currentRoom(c)
	if !ok {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeNotInRoom, "not in a room"))
	}
	if !c.AllowMessage() {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeRateLimited, "slow down"))
	}
	if err := apply(roomID); err != nil {
		return s.fail(ctx, c, roomID, err)
	}
	return nil
}

func (s *chatService) currentRoom(c *hub.Client) (string, bool) {
	roomID := c.Session.GetCurrentRoom()
	return roomID, roomID != ""
}

// leave detaches c from its current room and returns that room's id.
func (s *chatService) leave(ctx context.Context, c *hub.Client) string {
	roomID := c.Session.LeaveRoom()
	if roomID == "" {
		return ""
	}
	if err := s.rooms.Leave(ctx, roomID, c.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoomID, roomID).Str(log.FieldConnectionID, c.ID).Msg("failed to leave room")
	}
	audit.Log(ctx, audit.ActionLeaveRoom, c.Session.GetUserID(), roomID, "left room")
	return roomID
}

// fail reports err to the client as a protocol message. Errors that are
// answered on the wire are not returned to the caller.
func (s *chatService) fail(ctx context.Context, c *hub.Client, roomID string, err error) error {
	l := log.Ctx(ctx)

	var rejected *domain.RejectionError
	if errors.As(err, &rejected) {
		l.Info().Str(log.FieldRoomID, roomID).Str(log.FieldUserID, c.Session.GetUserID()).Msg("message rejected by moderation")
		return c.SendMessage(&domain.ModerationRejectedMessage{
			Type:    domain.MsgTypeModerationRejected,
			Content: rejected.Text,
			Tier:    int(moderation.TierReflex),
		})
	}

	code, msg := errorCode(err)
	switch code {
	case domain.ErrCodeRoomNotFound:
		c.Session.LeaveRoomIf(roomID)
	case domain.ErrCodeInternalError, domain.ErrCodeDeliveryFailed:
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Str(log.FieldConnectionID, c.ID).Msg("room operation failed")
	}
	return c.SendMessage(domain.NewErrorMessage(code, msg))
}

func errorCode(err error) (code, msg string) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return domain.ErrCodeRoomNotFound, "room not found"
	case errors.Is(err, domain.ErrRoomFull):
		return domain.ErrCodeRoomFull, "room is full"
	case errors.Is(err, domain.ErrNotInRoom):
		return domain.ErrCodeNotInRoom, "not in a room"
	case errors.Is(err, domain.ErrPersistenceFailure):
		return domain.ErrCodeDeliveryFailed, "message could not be delivered, please retry"
	case errors.Is(err, domain.ErrInterventionsOff):
		return domain.ErrCodeInterventionsOff, "AI moderation is disabled"
	case errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrMessageTooLong),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidQuiz):
		return domain.ErrCodeBadRequest, err.Error()
	default:
		return domain.ErrCodeInternalError, "internal error"
	}
}
