package chat

import "time"

// Reply is the companion's answer to one user turn.
type Reply struct {
	Reply     string    `json:"reply"`
	Timestamp time.Time `json:"timestamp"`
	// Emergency is set when the reply starts with the emergency marker.
	Emergency bool `json:"emergency"`
}

// StreamError is sent over the websocket when a frame cannot be answered.
type StreamError struct {
	Error string `json:"error"`
}
