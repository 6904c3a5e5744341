package repository

import (
	"time"

	"github.com/oakline/chatsync/internal/models"
)

// MessageRepositoryInterface defines the contract for message persistence.
type MessageRepositoryInterface interface {
	Create(message *models.Message) error
	FindByID(id uint) (*models.Message, error)
	FindByClientID(clientID string, authorID uint) (*models.Message, error)
	// FindPageBefore returns up to limit messages of a conversation sent
	// strictly before the cursor, newest first. A nil cursor means the
	// latest page.
	FindPageBefore(conversationID uint, before *time.Time, limit int) ([]models.Message, error)
	// ListUndeliveredFor returns messages of a conversation authored by
	// others that the recipient has no delivery receipt for yet.
	ListUndeliveredFor(conversationID, recipientID uint, limit int) ([]models.Message, error)
}

// ReceiptRepositoryInterface defines the contract for the receipt store.
// All writes are idempotent monotonic upserts keyed by (message, recipient).
type ReceiptRepositoryInterface interface {
	RecordDelivered(messageID, recipientID uint, at time.Time) error
	RecordRead(messageID, recipientID uint, at time.Time) error
	GetReceipts(messageID uint) (map[uint]models.ReceiptRecord, error)
}

// ConversationRepositoryInterface defines the contract for conversation
// membership lookups used by channel authorization and receipt aggregation.
type ConversationRepositoryInterface interface {
	Exists(conversationID uint) (bool, error)
	IsParticipant(conversationID, userID uint) (bool, error)
	ParticipantIDs(conversationID uint) ([]uint, error)
}
