package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Rooms and connections
	FieldRoomID       = "room_id"
	FieldConnectionID = "connection_id"
	FieldMessageID    = "message_id"
	FieldEvent        = "event"

	// Moderation
	FieldTier   = "tier"
	FieldAction = "action"

	// Service
	FieldService  = "service"
	FieldInstance = "instance"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
