package service

import (
	"sort"
	"time"

	"github.com/oakline/chatsync/internal/models"
	"gorm.io/gorm"
)

// MockMessageRepository is an in-memory implementation of
// repository.MessageRepositoryInterface for tests.
type MockMessageRepository struct {
	messages map[uint]*models.Message
	receipts *MockReceiptRepository // for ListUndeliveredFor
	nextID   uint
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[uint]*models.Message),
		nextID:   1,
	}
}

func (m *MockMessageRepository) Create(message *models.Message) error {
	if message.ID == 0 {
		message.ID = m.nextID
		m.nextID++
	}
	m.messages[message.ID] = message
	return nil
}

func (m *MockMessageRepository) FindByID(id uint) (*models.Message, error) {
	if msg, ok := m.messages[id]; ok {
		return msg, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMessageRepository) FindByClientID(clientID string, authorID uint) (*models.Message, error) {
	for _, msg := range m.messages {
		if msg.ClientID == clientID && msg.AuthorID == authorID {
			return msg, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MockMessageRepository) FindPageBefore(conversationID uint, before *time.Time, limit int) ([]models.Message, error) {
	var result []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if before != nil && msg.SentAt != nil && !msg.SentAt.Before(*before) {
			continue
		}
		result = append(result, *msg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SentAt.After(*result[j].SentAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockMessageRepository) ListUndeliveredFor(conversationID, recipientID uint, limit int) ([]models.Message, error) {
	var result []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID || msg.AuthorID == recipientID {
			continue
		}
		if msg.Category == models.SystemMessage {
			continue
		}
		if m.receipts != nil {
			if rec, ok := m.receipts.records[receiptKey{msg.ID, recipientID}]; ok && rec.Delivered() {
				continue
			}
		}
		result = append(result, *msg)
		if len(result) >= limit {
			break
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SentAt.Before(*result[j].SentAt)
	})
	return result, nil
}

type receiptKey struct {
	messageID   uint
	recipientID uint
}

// MockReceiptRepository mirrors the monotonic upsert semantics of the real
// store. failUntil injects transient failures to exercise the retry loop.
type MockReceiptRepository struct {
	records   map[receiptKey]*models.ReceiptRecord
	failUntil int
	calls     int
}

func NewMockReceiptRepository() *MockReceiptRepository {
	return &MockReceiptRepository{records: make(map[receiptKey]*models.ReceiptRecord)}
}

func (m *MockReceiptRepository) maybeFail() error {
	m.calls++
	if m.calls <= m.failUntil {
		return gorm.ErrInvalidDB
	}
	return nil
}

func (m *MockReceiptRepository) ensure(messageID, recipientID uint) *models.ReceiptRecord {
	key := receiptKey{messageID, recipientID}
	rec, ok := m.records[key]
	if !ok {
		rec = &models.ReceiptRecord{MessageID: messageID, RecipientID: recipientID}
		m.records[key] = rec
	}
	return rec
}

func (m *MockReceiptRepository) RecordDelivered(messageID, recipientID uint, at time.Time) error {
	if err := m.maybeFail(); err != nil {
		return err
	}
	rec := m.ensure(messageID, recipientID)
	if rec.DeliveredAt == nil || at.Before(*rec.DeliveredAt) {
		rec.DeliveredAt = &at
	}
	return nil
}

func (m *MockReceiptRepository) RecordRead(messageID, recipientID uint, at time.Time) error {
	if err := m.maybeFail(); err != nil {
		return err
	}
	rec := m.ensure(messageID, recipientID)
	if rec.ReadAt == nil || at.Before(*rec.ReadAt) {
		rec.ReadAt = &at
	}
	if rec.DeliveredAt == nil || at.Before(*rec.DeliveredAt) {
		rec.DeliveredAt = &at
	}
	return nil
}

func (m *MockReceiptRepository) GetReceipts(messageID uint) (map[uint]models.ReceiptRecord, error) {
	out := make(map[uint]models.ReceiptRecord)
	for key, rec := range m.records {
		if key.messageID == messageID {
			out[key.recipientID] = *rec
		}
	}
	return out, nil
}

// MockConversationRepository holds a static participant table.
type MockConversationRepository struct {
	participants map[uint][]uint
}

func NewMockConversationRepository() *MockConversationRepository {
	return &MockConversationRepository{participants: make(map[uint][]uint)}
}

func (m *MockConversationRepository) AddConversation(id uint, memberIDs ...uint) {
	m.participants[id] = memberIDs
}

func (m *MockConversationRepository) Exists(conversationID uint) (bool, error) {
	_, ok := m.participants[conversationID]
	return ok, nil
}

func (m *MockConversationRepository) IsParticipant(conversationID, userID uint) (bool, error) {
	for _, id := range m.participants[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockConversationRepository) ParticipantIDs(conversationID uint) ([]uint, error) {
	return m.participants[conversationID], nil
}
