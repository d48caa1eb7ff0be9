package constant

// Common slog attribute keys.
const (
	Error    = "error"
	Room     = "room"
	ClientID = "client_id"
	Reason   = "reason"
)
