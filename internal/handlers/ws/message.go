package ws

import (
	"encoding/json"

	"github.com/oakline/chatsync/internal/service"
)

// MessageContext provides all dependencies needed for message processing
type MessageContext struct {
	UserID         uint
	Session        *Session
	Registry       *Registry
	MessageService *service.MessageService
	ReceiptService *service.ReceiptService
}

// Message interface for all WebSocket message types
type Message interface {
	GetType() string
	Process(ctx *MessageContext) error
}

// SerializedMessage is the wire format wrapper
type SerializedMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Envelope is the outbound counterpart of SerializedMessage: a typed wrapper
// around a payload that has not been flattened to raw JSON yet.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ErrorResponse is sent when message processing fails
type ErrorResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// SendError sends an error response to the client
func SendError(s *Session, code, message, details string) error {
	return s.Send(ErrorResponse{
		Type:    "error",
		Error:   message,
		Code:    code,
		Details: details,
	})
}
