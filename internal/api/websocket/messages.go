package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Cycle messages
	MessageTypeCycleComplete MessageType = "cycle_complete"
	MessageTypeCycleFailed   MessageType = "cycle_failed"

	// State machine messages
	MessageTypeStateChanged MessageType = "state_changed"

	// Periodic status snapshot
	MessageTypeStatus MessageType = "status"

	// Live camera preview
	MessageTypePreview MessageType = "preview"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
