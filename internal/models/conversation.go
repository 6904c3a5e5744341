package models

import (
	"time"

	"gorm.io/gorm"
)

type Conversation struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string               `gorm:"type:varchar(120)" json:"name"`
	Members []ConversationMember `gorm:"foreignKey:ConversationID" json:"members,omitempty"`
}

type ConversationMember struct {
	ConversationID uint      `gorm:"primaryKey" json:"conversation_id"`
	UserID         uint      `gorm:"primaryKey" json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// RecipientsOf returns the participant ids minus the message author, the set
// receipt aggregation runs over.
func RecipientsOf(participantIDs []uint, authorID uint) []uint {
	out := make([]uint, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id != authorID {
			out = append(out, id)
		}
	}
	return out
}
