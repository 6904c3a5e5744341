package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/oakline/chatsync/internal/models"
	"github.com/oakline/chatsync/internal/repository"
	"gorm.io/gorm"
)

// receiptWriteAttempts bounds the internal retry of receipt upserts. They are
// idempotent, so retrying is always safe; after the last attempt the failure
// is logged and dropped rather than surfaced to the user.
const receiptWriteAttempts = 3

type ReceiptService struct {
	receiptRepo      repository.ReceiptRepositoryInterface
	messageRepo      repository.MessageRepositoryInterface
	conversationRepo repository.ConversationRepositoryInterface
}

func NewReceiptService(receiptRepo repository.ReceiptRepositoryInterface, messageRepo repository.MessageRepositoryInterface, conversationRepo repository.ConversationRepositoryInterface) *ReceiptService {
	return &ReceiptService{
		receiptRepo:      receiptRepo,
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
	}
}

// StatusChange bundles a recorded receipt with the message's recomputed
// aggregate status, ready to push to the author.
type StatusChange struct {
	Update models.ReceiptUpdate
	Status models.DeliveryStatus
	// AuthorID receives the push.
	AuthorID uint
}

func (s *ReceiptService) retry(op func() error) error {
	var err error
	for attempt := 1; attempt <= receiptWriteAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		log.Printf("receipt write attempt %d/%d failed: %v", attempt, receiptWriteAttempts, err)
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// MarkDelivered records a delivery receipt and recomputes the message's
// aggregate status. Receipts from the author or for system messages are
// ignored (nil change, nil error).
func (s *ReceiptService) MarkDelivered(messageID, recipientID uint, at time.Time) (*StatusChange, error) {
	return s.mark(messageID, recipientID, at, false)
}

// MarkRead records a read receipt; delivered_at is backfilled by the store
// when the read arrives first.
func (s *ReceiptService) MarkRead(messageID, recipientID uint, at time.Time) (*StatusChange, error) {
	return s.mark(messageID, recipientID, at, true)
}

func (s *ReceiptService) mark(messageID, recipientID uint, at time.Time, read bool) (*StatusChange, error) {
	msg, err := s.messageRepo.FindByID(messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// System messages bypass receipt tracking; authors do not receipt
	// their own messages.
	if msg.Category == models.SystemMessage || msg.AuthorID == recipientID {
		return nil, nil
	}

	member, err := s.conversationRepo.IsParticipant(msg.ConversationID, recipientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !member {
		return nil, ErrForbidden
	}

	write := func() error { return s.receiptRepo.RecordDelivered(messageID, recipientID, at) }
	if read {
		write = func() error { return s.receiptRepo.RecordRead(messageID, recipientID, at) }
	}
	if err := s.retry(write); err != nil {
		return nil, err
	}

	change, err := s.statusChange(msg, recipientID)
	if err != nil {
		return nil, err
	}
	return change, nil
}

// BackfillDelivered records delivery receipts for every message of a
// conversation the recipient has not received yet. Called when a recipient's
// session joins the conversation channel, covering messages sent while they
// were offline. Returns one status change per backfilled message.
func (s *ReceiptService) BackfillDelivered(conversationID, recipientID uint, at time.Time) ([]StatusChange, error) {
	const batch = 200

	pending, err := s.messageRepo.ListUndeliveredFor(conversationID, recipientID, batch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	changes := make([]StatusChange, 0, len(pending))
	for i := range pending {
		msg := &pending[i]
		if err := s.retry(func() error {
			return s.receiptRepo.RecordDelivered(msg.ID, recipientID, at)
		}); err != nil {
			// Best-effort: skip this message, keep going.
			log.Printf("backfill delivery for message %d failed: %v", msg.ID, err)
			continue
		}
		change, err := s.statusChange(msg, recipientID)
		if err != nil {
			log.Printf("status recompute for message %d failed: %v", msg.ID, err)
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

// Resolve recomputes the aggregate status of one message.
func (s *ReceiptService) Resolve(msg *models.Message) (models.DeliveryStatus, error) {
	receipts, err := s.receiptRepo.GetReceipts(msg.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	participants, err := s.conversationRepo.ParticipantIDs(msg.ConversationID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return models.ResolveDeliveryStatus(msg, receipts, participants), nil
}

func (s *ReceiptService) statusChange(msg *models.Message, recipientID uint) (*StatusChange, error) {
	receipts, err := s.receiptRepo.GetReceipts(msg.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	participants, err := s.conversationRepo.ParticipantIDs(msg.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	rec := receipts[recipientID]
	return &StatusChange{
		Update: models.ReceiptUpdate{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			RecipientID:    recipientID,
			DeliveredAt:    rec.DeliveredAt,
			ReadAt:         rec.ReadAt,
		},
		Status:   models.ResolveDeliveryStatus(msg, receipts, participants),
		AuthorID: msg.AuthorID,
	}, nil
}
