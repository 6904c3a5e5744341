package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/oakline/chatsync/internal/cache"
	"github.com/oakline/chatsync/internal/models"
	"github.com/oakline/chatsync/internal/repository"
	"github.com/oakline/chatsync/internal/validation"
	"gorm.io/gorm"
)

type MessageService struct {
	messageRepo      repository.MessageRepositoryInterface
	conversationRepo repository.ConversationRepositoryInterface
	messageCache     *cache.MessageCache
}

func NewMessageService(messageRepo repository.MessageRepositoryInterface, conversationRepo repository.ConversationRepositoryInterface, messageCache *cache.MessageCache) *MessageService {
	return &MessageService{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		messageCache:     messageCache,
	}
}

type SendMessageInput struct {
	ConversationID uint                   `json:"conversation_id"`
	ClientID       string                 `json:"client_id"`
	Content        string                 `json:"content"`
	Category       models.MessageCategory `json:"category"`
}

// Create persists a message after membership checks. The author id always
// comes from the authenticated session, never from the payload. Retried sends
// carrying an already-persisted client id return the existing row, so the ack
// is idempotent. Also returns the conversation's participant set for fan-out.
func (s *MessageService) Create(authorID uint, input SendMessageInput) (*models.Message, []uint, error) {
	if !validation.ValidateClientID(input.ClientID) {
		return nil, nil, ErrInvalidClientID
	}
	if !validation.ValidateMessageContent(input.Content) {
		return nil, nil, ErrInvalidContent
	}

	exists, err := s.conversationRepo.Exists(input.ConversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !exists {
		return nil, nil, ErrNotFound
	}

	member, err := s.conversationRepo.IsParticipant(input.ConversationID, authorID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !member {
		return nil, nil, ErrForbidden
	}

	participants, err := s.conversationRepo.ParticipantIDs(input.ConversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// Duplicate send (client retry racing an ack): hand back the row the
	// first attempt created.
	if existing, err := s.messageRepo.FindByClientID(input.ClientID, authorID); err == nil {
		return existing, participants, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	category := input.Category
	if category == "" {
		category = models.UserMessage
	}

	now := time.Now().UTC()
	message := &models.Message{
		ClientID:       input.ClientID,
		ConversationID: input.ConversationID,
		AuthorID:       authorID,
		Content:        input.Content,
		Category:       category,
		SentAt:         &now,
	}

	if err := s.messageRepo.Create(message); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.messageCache.InvalidateLatestPage(input.ConversationID)

	return message, participants, nil
}

// GetPageBefore fetches a history page, newest first. The latest page is
// served from cache when possible. Membership is checked so history cannot
// leak across conversations.
func (s *MessageService) GetPageBefore(userID, conversationID uint, before *time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	member, err := s.conversationRepo.IsParticipant(conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !member {
		return nil, ErrForbidden
	}

	if before == nil {
		if cached, ok := s.messageCache.GetLatestPage(conversationID); ok && len(cached) >= limit {
			return cached[:limit], nil
		}
	}

	messages, err := s.messageRepo.FindPageBefore(conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if before == nil {
		s.messageCache.SetLatestPage(conversationID, messages)
	}

	return messages, nil
}

// Participants returns a conversation's member ids.
func (s *MessageService) Participants(conversationID uint) ([]uint, error) {
	ids, err := s.conversationRepo.ParticipantIDs(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return ids, nil
}
