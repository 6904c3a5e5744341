package models

import (
	"time"
)

// ReceiptRecord tracks delivery and read progress of one message for one
// recipient. The author never has a receipt row for their own message.
//
// Invariant: ReadAt set implies DeliveredAt set. When a read arrives before
// the delivery event (out of order), the store backfills DeliveredAt with the
// read timestamp. Both timestamps are monotonic: an upsert only moves a
// timestamp to an earlier value or fills an unset one, never forward.
type ReceiptRecord struct {
	MessageID   uint       `gorm:"primaryKey" json:"message_id"`
	RecipientID uint       `gorm:"primaryKey" json:"recipient_id"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Delivered reports whether the message has reached the recipient. A read
// receipt counts as delivered even if DeliveredAt was never backfilled.
func (r *ReceiptRecord) Delivered() bool {
	return r.DeliveredAt != nil || r.ReadAt != nil
}

func (r *ReceiptRecord) Read() bool {
	return r.ReadAt != nil
}

// ReceiptUpdate is the wire-facing view of a receipt change, pushed to the
// author so their client can recompute the message's delivery status.
type ReceiptUpdate struct {
	ConversationID uint       `json:"conversation_id"`
	MessageID      uint       `json:"message_id"`
	RecipientID    uint       `json:"recipient_id"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
