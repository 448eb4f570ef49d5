package log

// Canonical field name constants for structured logging.
const (
	FieldComponent = "component"
	FieldConnID    = "conn_id"

	// Subscription fields
	FieldTopic   = "topic"
	FieldTopics  = "topics"
	FieldEvent   = "event"
	FieldVersion = "version"
	FieldReason  = "reason"

	// Connection fields
	FieldStatus    = "status"
	FieldOldStatus = "old_status"
	FieldAttempt   = "attempt"
	FieldDelay     = "delay"
	FieldQueued    = "queued"
	FieldFrameType = "frame_type"
	FieldURL       = "url"

	// Server error fields
	FieldCode    = "code"
	FieldMessage = "message"
)
