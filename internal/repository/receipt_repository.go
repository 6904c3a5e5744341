package repository

import (
	"time"

	"github.com/oakline/chatsync/internal/models"
	"gorm.io/gorm"
)

type ReceiptRepository struct {
	db *gorm.DB
}

func NewReceiptRepository(db *gorm.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// RecordDelivered upserts the delivery timestamp for (message, recipient).
// LEAST keeps the earliest observed delivery, so retries and races between
// connections of the same recipient cannot move the timestamp forward.
func (r *ReceiptRepository) RecordDelivered(messageID, recipientID uint, at time.Time) error {
	return r.db.Exec(`
		INSERT INTO receipt_records (message_id, recipient_id, delivered_at, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
		ON CONFLICT (message_id, recipient_id) DO UPDATE
		SET delivered_at = LEAST(COALESCE(receipt_records.delivered_at, EXCLUDED.delivered_at), EXCLUDED.delivered_at),
			updated_at = NOW()
	`, messageID, recipientID, at).Error
}

// RecordRead upserts the read timestamp and backfills delivered_at when the
// read arrives before the delivery event. Both columns stay monotonic.
func (r *ReceiptRepository) RecordRead(messageID, recipientID uint, at time.Time) error {
	return r.db.Exec(`
		INSERT INTO receipt_records (message_id, recipient_id, delivered_at, read_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NOW(), NOW())
		ON CONFLICT (message_id, recipient_id) DO UPDATE
		SET read_at = LEAST(COALESCE(receipt_records.read_at, EXCLUDED.read_at), EXCLUDED.read_at),
			delivered_at = LEAST(COALESCE(receipt_records.delivered_at, EXCLUDED.delivered_at), EXCLUDED.delivered_at),
			updated_at = NOW()
	`, messageID, recipientID, at, at).Error
}

func (r *ReceiptRepository) GetReceipts(messageID uint) (map[uint]models.ReceiptRecord, error) {
	var records []models.ReceiptRecord
	if err := r.db.Where("message_id = ?", messageID).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make(map[uint]models.ReceiptRecord, len(records))
	for _, rec := range records {
		out[rec.RecipientID] = rec
	}
	return out, nil
}
