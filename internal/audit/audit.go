package audit

import (
	"context"

	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

// Audit actions for the study-room service.
const (
	ActionCreateRoom      = "room.create"
	ActionDeactivateRoom  = "room.deactivate"
	ActionJoinRoom        = "room.join"
	ActionLeaveRoom       = "room.leave"
	ActionSendMessage     = "chat.send_message"
	ActionRejectMessage   = "moderation.reject"
	ActionModeratorNotice = "moderation.notice"
	ActionIntervention    = "moderation.intervention"
	ActionRequestHelp     = "moderation.request"
)

// Field constants for audit entries.
const (
	FieldAction = "audit_action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, userID, roomID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, userID, roomID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Str(FieldDetail, detail).
		Msg(msg)
}
