package repository

import (
	"errors"

	"github.com/oakline/chatsync/internal/models"
	"gorm.io/gorm"
)

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Exists(conversationID uint) (bool, error) {
	var conv models.Conversation
	err := r.db.Select("id").First(&conv, conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ConversationRepository) IsParticipant(conversationID, userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *ConversationRepository) ParticipantIDs(conversationID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}
