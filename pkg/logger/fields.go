package logger

// Shared field names so log lines can be queried the same way across the
// server and the client.
const (
	FieldNoteID     = "noteId"
	FieldVersion    = "version"
	FieldAction     = "action"
	FieldStatus     = "status"
	FieldDuration   = "duration"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldBackend    = "backend"
	FieldEpoch      = "epoch"
	FieldHTTPStatus = "httpStatus"
)
