package repository

import (
	"time"

	"github.com/oakline/chatsync/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *models.Message) error {
	return r.db.Create(message).Error
}

func (r *MessageRepository) FindByID(id uint) (*models.Message, error) {
	var message models.Message
	err := r.db.First(&message, id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindByClientID(clientID string, authorID uint) (*models.Message, error) {
	var message models.Message
	err := r.db.Where("client_id = ? AND author_id = ?", clientID, authorID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *MessageRepository) FindPageBefore(conversationID uint, before *time.Time, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := r.db.Where("conversation_id = ?", conversationID)
	if before != nil {
		q = q.Where("sent_at < ?", *before)
	}
	err := q.Order("sent_at DESC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *MessageRepository) ListUndeliveredFor(conversationID, recipientID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.
		Joins(`LEFT JOIN receipt_records ON receipt_records.message_id = messages.id AND receipt_records.recipient_id = ?`, recipientID).
		Where("messages.conversation_id = ? AND messages.author_id <> ?", conversationID, recipientID).
		Where("messages.category = ?", models.UserMessage).
		Where("receipt_records.message_id IS NULL OR (receipt_records.delivered_at IS NULL AND receipt_records.read_at IS NULL)").
		Order("messages.sent_at ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}
