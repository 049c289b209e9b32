package logger

// Standard field names for consistent logging.
const (
	FieldService   = "service"
	FieldOperation = "operation"
	FieldError     = "error"
	FieldUserID    = "user_id"
	FieldPhone     = "phone"
	FieldStudentID = "student_id"
	FieldParentID  = "parent_id"
	FieldRequestID = "request_id"
	FieldMessageID = "message_id"
	FieldPhase     = "phase"
)
