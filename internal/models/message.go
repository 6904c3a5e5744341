package models

import (
	"time"

	"gorm.io/gorm"
)

type MessageCategory string

const (
	UserMessage   MessageCategory = "user"
	SystemMessage MessageCategory = "system"
)

// DeliveryStatus is derived from a message plus its receipt set; it is never
// stored on the message row itself.
type DeliveryStatus string

const (
	StatusSending       DeliveryStatus = "sending"
	StatusSent          DeliveryStatus = "sent"
	StatusDelivered     DeliveryStatus = "delivered"
	StatusDeliveredRead DeliveryStatus = "delivered_read"
	StatusFailed        DeliveryStatus = "failed"
)

type Message struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// ClientID is the temporary id the client assigned before the server
	// persisted the message. Unique per author so retried sends deduplicate.
	ClientID string `gorm:"type:varchar(36);uniqueIndex:idx_client_author;not null" json:"client_id"`

	ConversationID uint `gorm:"not null;index:idx_conversation_sent" json:"conversation_id"`
	AuthorID       uint `gorm:"not null;uniqueIndex:idx_client_author" json:"author_id"`

	Content  string          `gorm:"type:text;not null" json:"content"`
	Category MessageCategory `gorm:"type:varchar(20);default:'user'" json:"category"`

	// SentAt is assigned by the server on persist. A message carrying only a
	// ClientID (SentAt nil) is still in flight.
	SentAt *time.Time `gorm:"index:idx_conversation_sent" json:"sent_at"`
}

// Durable reports whether the server has persisted the message.
func (m *Message) Durable() bool {
	return m.SentAt != nil
}

type MessageResponse struct {
	ID             uint            `json:"id"`
	ClientID       string          `json:"client_id"`
	ConversationID uint            `json:"conversation_id"`
	AuthorID       uint            `json:"author_id"`
	Content        string          `json:"content"`
	Category       MessageCategory `json:"category"`
	SentAt         *time.Time      `json:"sent_at"`
}

func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ClientID:       m.ClientID,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Content:        m.Content,
		Category:       m.Category,
		SentAt:         m.SentAt,
	}
}
