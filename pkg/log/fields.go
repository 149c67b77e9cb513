package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor
	FieldModerator = "moderator"

	// Domain
	FieldStoryID = "story_id"
	FieldAction  = "action"
	FieldSeq     = "seq"
	FieldEvent   = "event"

	// Connections
	FieldConnID  = "conn_id"
	FieldChannel = "channel"

	// Service
	FieldService  = "service"
	FieldInstance = "instance_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
