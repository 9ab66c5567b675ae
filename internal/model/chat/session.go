package chat

// SessionCreated is returned when a session is opened.
type SessionCreated struct {
	SessionID string `json:"session_id"`
}

// SendMessageRequest carries one user turn.
type SendMessageRequest struct {
	Message string `json:"message"`
}
